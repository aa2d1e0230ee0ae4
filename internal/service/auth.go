// Package service implements account registration, sign-in, sessions and
// one-time-code flows, delegating persistence to repositories.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/logger"
	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/atinyakov/CargoDesk/internal/repository"
	"github.com/atinyakov/CargoDesk/internal/validate"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository persists accounts.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id string, hash []byte) error
	MarkEmailVerified(ctx context.Context, id string) error
	RecordLoginFailure(ctx context.Context, id string, maxFailures int, lockUntil time.Time) (*time.Time, error)
	ResetLoginFailures(ctx context.Context, id string) error
}

// SessionRepository persists session tokens.
type SessionRepository interface {
	Create(ctx context.Context, token, userID string, expiresAt time.Time) error
	UserID(ctx context.Context, token string, now time.Time) (string, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// CodeStore keeps one-time codes.
type CodeStore interface {
	Issue(ctx context.Context, purpose repository.CodePurpose, email, code string, ttl, cooldown time.Duration) (bool, error)
	Verify(ctx context.Context, purpose repository.CodePurpose, email, code string, maxAttempts int) error
	Consume(ctx context.Context, purpose repository.CodePurpose, email, code string, requireVerified bool) error
}

// Settings tunes the service.
type Settings struct {
	CodeTTL          time.Duration
	ResendCooldown   time.Duration
	MaxCodeAttempts  int
	MaxLoginFailures int
	LockoutDuration  time.Duration
	SessionTTL       time.Duration
	BcryptCost       int
}

// DefaultSettings are used for zero fields of the Settings passed to
// NewAuthService.
var DefaultSettings = Settings{
	CodeTTL:          10 * time.Minute,
	ResendCooldown:   60 * time.Second,
	MaxCodeAttempts:  5,
	MaxLoginFailures: 5,
	LockoutDuration:  15 * time.Minute,
	SessionTTL:       7 * 24 * time.Hour,
	BcryptCost:       bcrypt.DefaultCost,
}

// AuthService is the account service.
type AuthService struct {
	users    UserRepository
	sessions SessionRepository
	codes    CodeStore
	mailer   Mailer
	cfg      Settings
	log      *zap.Logger

	now     func() time.Time
	newID   func() string
	newCode func() (string, error)

	dummyOnce sync.Once
	dummyHash []byte

	pending sync.WaitGroup
}

// NewAuthService builds the service. log may be nil.
func NewAuthService(users UserRepository, sessions SessionRepository, codes CodeStore, mailer Mailer, cfg Settings, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		codes:    codes,
		mailer:   mailer,
		cfg:      withDefaults(cfg),
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
		newCode:  randomCode,
	}
}

func withDefaults(c Settings) Settings {
	d := DefaultSettings
	if c.CodeTTL > 0 {
		d.CodeTTL = c.CodeTTL
	}
	if c.ResendCooldown > 0 {
		d.ResendCooldown = c.ResendCooldown
	}
	if c.MaxCodeAttempts > 0 {
		d.MaxCodeAttempts = c.MaxCodeAttempts
	}
	if c.MaxLoginFailures > 0 {
		d.MaxLoginFailures = c.MaxLoginFailures
	}
	if c.LockoutDuration > 0 {
		d.LockoutDuration = c.LockoutDuration
	}
	if c.SessionTTL > 0 {
		d.SessionTTL = c.SessionTTL
	}
	if c.BcryptCost > 0 {
		d.BcryptCost = c.BcryptCost
	}
	return d
}

// CodeTTL is the lifetime of issued one-time codes.
func (s *AuthService) CodeTTL() time.Duration { return s.cfg.CodeTTL }

// SessionTTL is the lifetime of new sessions.
func (s *AuthService) SessionTTL() time.Duration { return s.cfg.SessionTTL }

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func internalErr(err error) error {
	return autherr.Wrap(autherr.Internal, "internal error", err)
}

// Register creates an account. Clients get a password and a verification
// code by email; agents are stored inactive and without a password until
// activated.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := checkRegister(&req); err != nil {
		return nil, err
	}

	u := &models.User{
		ID:               s.newID(),
		Email:            req.Email,
		Username:         req.Username,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		UserType:         req.UserType,
		CompanyName:      req.CompanyName,
		OrganizationType: req.OrganizationType,
		ActivityType:     req.ActivityType,
		Language:         req.Language,
		IsActive:         req.UserType == models.Client,
		CreatedAt:        s.now().UTC(),
	}
	if req.UserType == models.Client {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
		if err != nil {
			return nil, internalErr(err)
		}
		u.PasswordHash = hash
	}

	switch err := s.users.Create(ctx, u); {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, autherr.Field(autherr.DuplicateEmail, "email", "this email is already registered")
	case errors.Is(err, repository.ErrDuplicateUsername):
		return nil, autherr.Field(autherr.DuplicateUsername, "username", "this username is taken")
	case err != nil:
		return nil, internalErr(err)
	}

	s.log.Info("user registered",
		zap.String("user_id", u.ID),
		zap.String("user_type", string(u.UserType)),
		zap.String("email", logger.MaskEmail(u.Email)),
	)
	s.sendCode(ctx, repository.PurposeVerify, u.Email, 0)
	return u, nil
}

func checkRegister(req *models.RegisterRequest) error {
	req.Email = validate.NormalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Phone = strings.TrimSpace(req.Phone)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	if req.Language == "" {
		req.Language = "en"
	}

	if req.UserType != models.Client && req.UserType != models.Agent {
		return autherr.Field(autherr.Validation, "userType", "choose client or agent")
	}
	required := []struct{ field, value string }{
		{"firstName", req.FirstName},
		{"lastName", req.LastName},
		{"username", req.Username},
		{"email", req.Email},
		{"phone", req.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return autherr.Field(autherr.Validation, r.field, "this field is required")
		}
	}
	if !validate.Email(req.Email) {
		return autherr.Field(autherr.Validation, "email", "enter a valid email address")
	}
	if !validate.Username(req.Username) {
		return autherr.Field(autherr.Validation, "username", "3 to 32 letters, digits, dots, dashes or underscores")
	}
	if !validate.Phone(req.Phone) {
		return autherr.Field(autherr.Validation, "phone", "enter a phone number with country code")
	}

	switch req.UserType {
	case models.Client:
		if field, msg := validate.Password(req.Password, req.ConfirmPassword); field != "" {
			return autherr.Field(autherr.Validation, field, msg)
		}
		req.OrganizationType, req.ActivityType = "", ""
	case models.Agent:
		if !slices.Contains(models.OrganizationTypes, req.OrganizationType) {
			return autherr.Field(autherr.Validation, "organizationType", "unknown organization type")
		}
		if !slices.Contains(models.ActivityTypes, req.ActivityType) {
			return autherr.Field(autherr.Validation, "activityType", "unknown activity type")
		}
		req.Password, req.ConfirmPassword = "", ""
	}
	return nil
}

// Login checks the password and opens a session. Repeated failures lock the
// account for LockoutDuration.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = validate.NormalizeEmail(email)
	if !validate.Email(email) || password == "" {
		return nil, "", autherr.New(autherr.InvalidCredentials, "invalid email or password")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.burnHash(password)
		return nil, "", autherr.New(autherr.InvalidCredentials, "invalid email or password")
	}
	if err != nil {
		return nil, "", internalErr(err)
	}

	// The lock is checked before the password so guesses made during a
	// lockout learn nothing.
	now := s.now()
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		return nil, "", autherr.New(autherr.AccountLocked, "too many failed attempts, try again later")
	}
	if len(u.PasswordHash) == 0 {
		s.burnHash(password)
		return nil, "", autherr.New(autherr.InvalidCredentials, "invalid email or password")
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		locked, err := s.users.RecordLoginFailure(ctx, u.ID, s.cfg.MaxLoginFailures, now.Add(s.cfg.LockoutDuration))
		if err != nil {
			return nil, "", internalErr(err)
		}
		if locked != nil && now.Before(*locked) {
			s.log.Warn("account locked", zap.String("user_id", u.ID), zap.Time("until", *locked))
			return nil, "", autherr.New(autherr.AccountLocked, "too many failed attempts, try again later")
		}
		return nil, "", autherr.New(autherr.InvalidCredentials, "invalid email or password")
	}
	if !u.IsActive {
		return nil, "", autherr.New(autherr.AccountDeactivated, "this account is not active")
	}

	if u.FailedLogins > 0 || u.LockedUntil != nil {
		if err := s.users.ResetLoginFailures(ctx, u.ID); err != nil {
			return nil, "", internalErr(err)
		}
		u.FailedLogins, u.LockedUntil = 0, nil
	}

	token, err := s.openSession(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user logged in", zap.String("user_id", u.ID))
	return u, token, nil
}

// burnHash spends the time of a password check so unknown emails are not
// distinguishable by latency.
func (s *AuthService) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cfg.BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func (s *AuthService) openSession(ctx context.Context, userID string) (string, error) {
	token := s.newID()
	if err := s.sessions.Create(ctx, token, userID, s.now().Add(s.cfg.SessionTTL)); err != nil {
		return "", internalErr(err)
	}
	return token, nil
}

// CurrentUser resolves a session token.
func (s *AuthService) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, autherr.New(autherr.Unauthenticated, "not signed in")
	}
	userID, err := s.sessions.UserID(ctx, token, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.New(autherr.Unauthenticated, "session expired")
	}
	if err != nil {
		return nil, internalErr(err)
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.New(autherr.Unauthenticated, "session expired")
	}
	if err != nil {
		return nil, internalErr(err)
	}
	if !u.IsActive {
		return nil, autherr.New(autherr.AccountDeactivated, "this account is not active")
	}
	return u, nil
}

// Logout closes the session. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return internalErr(err)
	}
	return nil
}

// RequestPasswordReset mails a reset code if email belongs to an active
// account. The result is the same whether or not it does; codes requested
// within ResendCooldown of the previous one are silently not sent. The code
// is issued and mailed in the background so the response time does not
// depend on the account existing; Wait drains pending sends.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (time.Duration, error) {
	email = validate.NormalizeEmail(email)
	if !validate.Email(email) {
		return 0, autherr.Field(autherr.Validation, "email", "enter a valid email address")
	}
	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.log.Debug("reset requested for unknown email", zap.String("email", logger.MaskEmail(email)))
		return s.cfg.CodeTTL, nil
	case err != nil:
		return 0, internalErr(err)
	case !u.IsActive:
		s.log.Debug("reset requested for inactive account", zap.String("user_id", u.ID))
		return s.cfg.CodeTTL, nil
	}

	sendCtx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.sendCode(sendCtx, repository.PurposeReset, u.Email, s.cfg.ResendCooldown)
	}()
	return s.cfg.CodeTTL, nil
}

// Wait blocks until every code dispatched by RequestPasswordReset has been
// handed to the mailer.
func (s *AuthService) Wait() {
	s.pending.Wait()
}

// sendCode issues and mails a code. Failures are logged, never returned, so
// callers answer the same way regardless.
func (s *AuthService) sendCode(ctx context.Context, purpose repository.CodePurpose, email string, cooldown time.Duration) {
	code, err := s.newCode()
	if err != nil {
		s.log.Error("failed to generate code", zap.Error(err))
		return
	}
	issued, err := s.codes.Issue(ctx, purpose, email, code, s.cfg.CodeTTL, cooldown)
	if err != nil {
		s.log.Error("failed to store code", zap.String("purpose", string(purpose)), zap.Error(err))
		return
	}
	if !issued {
		s.log.Debug("code not sent, cooldown active", zap.String("purpose", string(purpose)), zap.String("email", logger.MaskEmail(email)))
		return
	}
	if err := s.mailer.SendCode(ctx, purpose, email, code, s.cfg.CodeTTL); err != nil {
		s.log.Error("failed to send code", zap.String("purpose", string(purpose)), zap.Error(err))
	}
}

func codeError() error {
	return autherr.Field(autherr.InvalidOrExpiredCode, "code", "the code is invalid or has expired")
}

// VerifyResetCode checks a reset code without using it up.
func (s *AuthService) VerifyResetCode(ctx context.Context, email, code string) error {
	email = validate.NormalizeEmail(email)
	if !validate.Code(code) {
		return autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	err := s.codes.Verify(ctx, repository.PurposeReset, email, code, s.cfg.MaxCodeAttempts)
	if errors.Is(err, repository.ErrInvalidCode) {
		return codeError()
	}
	if err != nil {
		return internalErr(err)
	}
	return nil
}

// ResetPassword sets a new password with a verified reset code, closes every
// other session and opens a new one. The code cannot be used again. A
// successful reset also lifts a login lockout, since the code proves control
// of the mailbox.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (*models.User, string, error) {
	email := validate.NormalizeEmail(req.Email)
	if !validate.Code(req.Code) {
		return nil, "", autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	if field, msg := validate.Password(req.Password, req.ConfirmPassword); field != "" {
		return nil, "", autherr.Field(autherr.Validation, field, msg)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", codeError()
	}
	if err != nil {
		return nil, "", internalErr(err)
	}
	err = s.codes.Consume(ctx, repository.PurposeReset, email, req.Code, true)
	if errors.Is(err, repository.ErrInvalidCode) {
		return nil, "", codeError()
	}
	if err != nil {
		return nil, "", internalErr(err)
	}
	// Only a holder of a valid code learns the account state.
	if !u.IsActive {
		return nil, "", autherr.New(autherr.AccountDeactivated, "this account is not active")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, "", internalErr(err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return nil, "", internalErr(err)
	}
	if err := s.sessions.DeleteByUser(ctx, u.ID); err != nil {
		return nil, "", internalErr(err)
	}
	u.PasswordHash, u.FailedLogins, u.LockedUntil = hash, 0, nil

	token, err := s.openSession(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("password reset", zap.String("user_id", u.ID))
	return u, token, nil
}

// VerifyEmail confirms an address with the code mailed at registration.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	email = validate.NormalizeEmail(email)
	if !validate.Code(code) {
		return autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return codeError()
	}
	if err != nil {
		return internalErr(err)
	}

	err = s.codes.Verify(ctx, repository.PurposeVerify, email, code, s.cfg.MaxCodeAttempts)
	if err == nil {
		err = s.codes.Consume(ctx, repository.PurposeVerify, email, code, true)
	}
	if errors.Is(err, repository.ErrInvalidCode) {
		return codeError()
	}
	if err != nil {
		return internalErr(err)
	}

	if err := s.users.MarkEmailVerified(ctx, u.ID); err != nil {
		return internalErr(err)
	}
	s.log.Info("email verified", zap.String("user_id", u.ID))
	return nil
}
