package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/atinyakov/CargoDesk/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	failErr error
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]*models.User{}} }

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, x := range m.byID {
		if x.Email == u.Email {
			return repository.ErrDuplicateEmail
		}
		if x.Username == u.Username {
			return repository.ErrDuplicateUsername
		}
	}
	c := *u
	m.byID[u.ID] = &c
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].PasswordHash = hash
	m.byID[id].FailedLogins = 0
	m.byID[id].LockedUntil = nil
	return nil
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].IsEmailVerified = true
	return nil
}

func (m *memUsers) RecordLoginFailure(_ context.Context, id string, maxFailures int, lockUntil time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	u.FailedLogins++
	if u.FailedLogins >= maxFailures {
		u.FailedLogins = 0
		t := lockUntil
		u.LockedUntil = &t
	}
	return u.LockedUntil, nil
}

func (m *memUsers) ResetLoginFailures(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].FailedLogins = 0
	m.byID[id].LockedUntil = nil
	return nil
}

// memSessions is an in-memory SessionRepository.
type memSessions struct {
	mu     sync.Mutex
	tokens map[string]memSession
}

type memSession struct {
	userID  string
	expires time.Time
}

func newMemSessions() *memSessions { return &memSessions{tokens: map[string]memSession{}} }

func (m *memSessions) Create(_ context.Context, token, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = memSession{userID, expiresAt}
	return nil
}

func (m *memSessions) UserID(_ context.Context, token string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tokens[token]
	if !ok || !now.Before(s.expires) {
		return "", repository.ErrNotFound
	}
	return s.userID, nil
}

func (m *memSessions) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memSessions) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.tokens {
		if s.userID == userID {
			delete(m.tokens, k)
		}
	}
	return nil
}

// captureMailer records the last code per purpose and email.
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func (c *captureMailer) SendCode(_ context.Context, purpose repository.CodePurpose, email, code string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[string(purpose)+":"+email] = code
	c.sent++
	return nil
}

func (c *captureMailer) code(purpose repository.CodePurpose, email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[string(purpose)+":"+email]
}

type fixture struct {
	svc      *AuthService
	users    *memUsers
	sessions *memSessions
	mail     *captureMailer
	redis    *miniredis.Miniredis
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		users:    newMemUsers(),
		sessions: newMemSessions(),
		mail:     &captureMailer{},
		redis:    server,
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAuthService(f.users, f.sessions, repository.NewRedisCodeStore(client, "test"), f.mail,
		Settings{BcryptCost: bcrypt.MinCost, MaxLoginFailures: 3}, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	f.redis.FastForward(d)
}

func clientRequest() models.RegisterRequest {
	return models.RegisterRequest{
		UserType:        models.Client,
		FirstName:       "Ann",
		LastName:        "Lee",
		Username:        "ann",
		Email:           " Ann@Example.com ",
		Phone:           "+79001234567",
		Password:        "secret1",
		ConfirmPassword: "secret1",
	}
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsEmailVerified)
	assert.Equal(t, "en", u.Language)
	assert.NotEmpty(t, f.mail.code(repository.PurposeVerify, "ann@example.com"), "verification code mailed")

	got, token, err := f.svc.Login(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEmpty(t, token)

	me, err := f.svc.CurrentUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", me.Email)

	require.NoError(t, f.svc.Logout(ctx, token))
	_, err = f.svc.CurrentUser(ctx, token)
	assert.True(t, autherr.Is(err, autherr.Unauthenticated))
}

func TestRegisterDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, clientRequest())
	assert.True(t, autherr.Is(err, autherr.DuplicateEmail))
	assert.Equal(t, "email", autherr.FieldOf(err))

	req := clientRequest()
	req.Email = "other@example.com"
	_, err = f.svc.Register(ctx, req)
	assert.True(t, autherr.Is(err, autherr.DuplicateUsername))
	assert.Equal(t, "username", autherr.FieldOf(err))
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*models.RegisterRequest)
		field string
	}{
		{"admin role", func(r *models.RegisterRequest) { r.UserType = models.Admin }, "userType"},
		{"missing phone", func(r *models.RegisterRequest) { r.Phone = " " }, "phone"},
		{"bad email", func(r *models.RegisterRequest) { r.Email = "ann@" }, "email"},
		{"bad username", func(r *models.RegisterRequest) { r.Username = "a b" }, "username"},
		{"short password", func(r *models.RegisterRequest) { r.Password, r.ConfirmPassword = "abc", "abc" }, "password"},
		{"mismatch", func(r *models.RegisterRequest) { r.ConfirmPassword = "secret2" }, "confirmPassword"},
		{"agent without activity", func(r *models.RegisterRequest) {
			r.UserType = models.Agent
			r.OrganizationType = "llc"
		}, "activityType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := clientRequest()
			tt.edit(&req)
			_, err := f.svc.Register(context.Background(), req)
			assert.True(t, autherr.Is(err, autherr.Validation))
			assert.Equal(t, tt.field, autherr.FieldOf(err))
		})
	}
}

func TestAgentPendingActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := clientRequest()
	req.UserType = models.Agent
	req.OrganizationType = "llc"
	req.ActivityType = "carrier"

	u, err := f.svc.Register(ctx, req)
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	assert.Empty(t, u.PasswordHash, "no password captured for agents")

	_, _, err = f.svc.Login(ctx, "ann@example.com", "secret1")
	assert.True(t, autherr.Is(err, autherr.InvalidCredentials), "no password to match, same answer as an unknown email")

	sent := f.mail.sent
	_, err = f.svc.RequestPasswordReset(ctx, "ann@example.com")
	require.NoError(t, err)
	f.svc.Wait()
	assert.Equal(t, sent, f.mail.sent, "no reset code for an account awaiting activation")

	_, _, err = f.svc.ResetPassword(ctx, models.ResetPasswordRequest{
		Email: "ann@example.com", Code: "1234", Password: "newpass", ConfirmPassword: "newpass",
	})
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode))
	assert.Empty(t, f.sessions.tokens, "no session for an inactive account")
}

func TestResetCannotSignInDeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)

	_, err = f.svc.RequestPasswordReset(ctx, "ann@example.com")
	require.NoError(t, err)
	f.svc.Wait()
	code := f.mail.code(repository.PurposeReset, "ann@example.com")
	require.NoError(t, f.svc.VerifyResetCode(ctx, "ann@example.com", code))

	f.users.byID[u.ID].IsActive = false
	_, token, err := f.svc.ResetPassword(ctx, models.ResetPasswordRequest{
		Email: "ann@example.com", Code: code, Password: "newpass", ConfirmPassword: "newpass",
	})
	assert.True(t, autherr.Is(err, autherr.AccountDeactivated))
	assert.Empty(t, token)
	assert.Empty(t, f.sessions.tokens)

	_, _, err = f.svc.Login(ctx, "ann@example.com", "newpass")
	assert.True(t, autherr.Is(err, autherr.InvalidCredentials), "password left unchanged")
}

func TestLoginChecksPasswordBeforeAccountState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	f.users.byID[u.ID].IsActive = false

	_, _, err = f.svc.Login(ctx, "ann@example.com", "wrong1")
	assert.True(t, autherr.Is(err, autherr.InvalidCredentials))
	_, _, err = f.svc.Login(ctx, "ann@example.com", "secret1")
	assert.True(t, autherr.Is(err, autherr.AccountDeactivated))
}

// blockingMailer holds every send until release is closed.
type blockingMailer struct {
	captureMailer
	release chan struct{}
}

func (b *blockingMailer) SendCode(ctx context.Context, purpose repository.CodePurpose, email, code string, ttl time.Duration) error {
	<-b.release
	return b.captureMailer.SendCode(ctx, purpose, email, code, ttl)
}

func TestRequestResetDoesNotWaitForMailer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)

	mailer := &blockingMailer{release: make(chan struct{})}
	f.svc.mailer = mailer

	reqCtx, cancel := context.WithCancel(ctx)
	ttl, err := f.svc.RequestPasswordReset(reqCtx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)
	cancel()

	close(mailer.release)
	f.svc.Wait()
	assert.Len(t, mailer.code(repository.PurposeReset, "ann@example.com"), 4, "sent after the request returned")
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err = f.svc.Login(ctx, "ann@example.com", "wrong")
		assert.True(t, autherr.Is(err, autherr.InvalidCredentials))
	}
	_, _, err = f.svc.Login(ctx, "ann@example.com", "wrong")
	assert.True(t, autherr.Is(err, autherr.AccountLocked), "third failure locks")

	_, _, err = f.svc.Login(ctx, "ann@example.com", "secret1")
	assert.True(t, autherr.Is(err, autherr.AccountLocked), "right password during lockout")

	f.advance(DefaultSettings.LockoutDuration)
	_, _, err = f.svc.Login(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)
	u, _ := f.users.GetByEmail(ctx, "ann@example.com")
	assert.Nil(t, u.LockedUntil)
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Login(context.Background(), "ghost@example.com", "whatever")
	assert.True(t, autherr.Is(err, autherr.InvalidCredentials))
}

func TestSessionExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	_, token, err := f.svc.Login(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)

	f.advance(f.svc.SessionTTL())
	_, err = f.svc.CurrentUser(ctx, token)
	assert.True(t, autherr.Is(err, autherr.Unauthenticated))
	_, err = f.svc.CurrentUser(ctx, "")
	assert.True(t, autherr.Is(err, autherr.Unauthenticated))
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	_, oldToken, err := f.svc.Login(ctx, "ann@example.com", "secret1")
	require.NoError(t, err)

	ttl, err := f.svc.RequestPasswordReset(ctx, "ann@example.com")
	f.svc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)
	code := f.mail.code(repository.PurposeReset, "ann@example.com")
	require.Len(t, code, 4)

	req := models.ResetPasswordRequest{Email: "ann@example.com", Code: code, Password: "newpass", ConfirmPassword: "newpass"}
	_, _, err = f.svc.ResetPassword(ctx, req)
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode), "reset requires a verified code")

	require.NoError(t, f.svc.VerifyResetCode(ctx, "ann@example.com", code))
	u, token, err := f.svc.ResetPassword(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.NotEmpty(t, token)

	_, err = f.svc.CurrentUser(ctx, oldToken)
	assert.True(t, autherr.Is(err, autherr.Unauthenticated), "old sessions dropped")
	_, _, err = f.svc.Login(ctx, "ann@example.com", "newpass")
	assert.NoError(t, err)

	err = f.svc.VerifyResetCode(ctx, "ann@example.com", code)
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode), "code cannot be replayed")
	_, _, err = f.svc.ResetPassword(ctx, req)
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode))
}

func TestRequestResetAntiEnumeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	sentBefore := f.mail.sent

	known, errKnown := f.svc.RequestPasswordReset(ctx, "ann@example.com")
	f.svc.Wait()
	unknown, errUnknown := f.svc.RequestPasswordReset(ctx, "unregistered@x.com")
	assert.NoError(t, errKnown)
	assert.NoError(t, errUnknown)
	assert.Equal(t, known, unknown)
	assert.Equal(t, sentBefore+1, f.mail.sent)

	_, err = f.svc.RequestPasswordReset(ctx, "not-an-email")
	f.svc.Wait()
	assert.True(t, autherr.Is(err, autherr.Validation))
}

func TestRequestResetCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)

	_, err = f.svc.RequestPasswordReset(ctx, "ann@example.com")
	f.svc.Wait()
	require.NoError(t, err)
	first := f.mail.code(repository.PurposeReset, "ann@example.com")
	sent := f.mail.sent

	f.advance(30 * time.Second)
	_, err = f.svc.RequestPasswordReset(ctx, "ann@example.com")
	f.svc.Wait()
	require.NoError(t, err, "cooldown is silent")
	assert.Equal(t, sent, f.mail.sent)
	assert.NoError(t, f.svc.VerifyResetCode(ctx, "ann@example.com", first), "first code still valid")

	f.advance(30 * time.Second)
	_, err = f.svc.RequestPasswordReset(ctx, "ann@example.com")
	f.svc.Wait()
	require.NoError(t, err)
	assert.Equal(t, sent+1, f.mail.sent)
}

func TestResetCodeExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	_, err = f.svc.RequestPasswordReset(ctx, "ann@example.com")
	f.svc.Wait()
	require.NoError(t, err)
	code := f.mail.code(repository.PurposeReset, "ann@example.com")

	f.advance(10*time.Minute + time.Second)
	err = f.svc.VerifyResetCode(ctx, "ann@example.com", code)
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode))
}

func TestResetPasswordRules(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Email: "ann@example.com", Code: "1234", Password: "abc", ConfirmPassword: "abc",
	})
	assert.True(t, autherr.Is(err, autherr.Validation))
	assert.Equal(t, "password", autherr.FieldOf(err))
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, clientRequest())
	require.NoError(t, err)
	code := f.mail.code(repository.PurposeVerify, "ann@example.com")

	err = f.svc.VerifyEmail(ctx, "ann@example.com", "12")
	assert.True(t, autherr.Is(err, autherr.Validation))
	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}
	err = f.svc.VerifyEmail(ctx, "ann@example.com", wrong)
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode))

	require.NoError(t, f.svc.VerifyEmail(ctx, "ANN@example.com", code))
	got, _ := f.users.GetByID(ctx, u.ID)
	assert.True(t, got.IsEmailVerified)

	err = f.svc.VerifyEmail(ctx, "ann@example.com", code)
	assert.True(t, autherr.Is(err, autherr.InvalidOrExpiredCode))
}

func TestRepositoryFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.users.failErr = errors.New("db down")

	_, err := f.svc.Register(context.Background(), clientRequest())
	assert.True(t, autherr.Is(err, autherr.Internal))
	_, _, err = f.svc.Login(context.Background(), "ann@example.com", "secret1")
	assert.True(t, autherr.Is(err, autherr.Internal))
}
