// Package reset drives the forgot-password flow: request a one-time code,
// verify it, then choose a new password and sign in.
package reset

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/atinyakov/CargoDesk/internal/validate"
	"go.uber.org/zap"
)

// Step is the flow state.
type Step int

const (
	EmailEntry Step = iota
	CodeSent
	CodeVerified
	Completed
)

func (s Step) String() string {
	switch s {
	case CodeSent:
		return "code-sent"
	case CodeVerified:
		return "code-verified"
	case Completed:
		return "completed"
	}
	return "email"
}

const (
	// Cooldown is the minimum time between two code requests.
	Cooldown = 60 * time.Second
	// DefaultCodeTTL is assumed when the server does not declare a lifetime.
	DefaultCodeTTL = 10 * time.Minute
)

// SentMessage is shown after every code request, registered address or not.
const SentMessage = "If this email is registered, a 4-digit code has been sent. It is valid for 10 minutes."

// RestartMessage is shown when the code expired between verification and reset.
const RestartMessage = "Your code has expired. Please request a new one."

var (
	ErrBusy           = errors.New("a request is already in progress")
	ErrCooldownActive = errors.New("please wait before requesting another code")
	ErrWrongStep      = errors.New("not allowed at this step")
	// ErrSuperseded is returned to a call whose result arrived after Restart.
	ErrSuperseded = errors.New("request superseded")
)

// Gateway is the subset of the credential gateway the flow needs.
type Gateway interface {
	RequestResetCode(ctx context.Context, email string) (time.Duration, error)
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, password, confirm string) (models.User, string, error)
}

// Authenticator receives the session opened by a successful reset.
type Authenticator interface {
	SetAuthenticated(user models.User, token string)
}

// Challenge is the code issued for one reset attempt.
type Challenge struct {
	Email         string
	Code          string
	VerifiedAt    time.Time
	ExpiresAt     time.Time
	CooldownUntil time.Time
}

// State is a copy of the flow state.
type State struct {
	Step      Step
	Email     string
	Digits    string
	Challenge *Challenge
	Busy      bool
	Message   string
	Error     string
	// FieldErrors holds password form problems.
	FieldErrors map[string]string
}

// Option configures a Flow.
type Option func(*Flow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(f *Flow) { f.log = log }
}

// Flow is one password reset attempt.
type Flow struct {
	gw   Gateway
	auth Authenticator
	now  func() time.Time
	log  *zap.Logger

	mu        sync.Mutex
	step      Step
	email     string
	digits    string
	challenge *Challenge
	busy      bool
	attempt   uint64
	message   string
	errMsg    string
	fieldErrs map[string]string
}

// NewFlow opens a flow at EmailEntry.
func NewFlow(gw Gateway, auth Authenticator, opts ...Option) *Flow {
	f := &Flow{
		gw:   gw,
		auth: auth,
		now:  time.Now,
		log:  zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CooldownRemaining is how long the user must still wait before resending.
func CooldownRemaining(now, until time.Time) time.Duration {
	if !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

// State returns a copy of the flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := State{
		Step:    f.step,
		Email:   f.email,
		Digits:  f.digits,
		Busy:    f.busy,
		Message: f.message,
		Error:   f.errMsg,
	}
	if f.challenge != nil {
		c := *f.challenge
		s.Challenge = &c
	}
	if len(f.fieldErrs) > 0 {
		s.FieldErrors = make(map[string]string, len(f.fieldErrs))
		for k, v := range f.fieldErrs {
			s.FieldErrors[k] = v
		}
	}
	return s
}

// CooldownRemaining is the resend wait for the current challenge.
func (f *Flow) CooldownRemaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenge == nil {
		return 0
	}
	return CooldownRemaining(f.now(), f.challenge.CooldownUntil)
}

// beginLocked marks a call in flight and returns its attempt number.
func (f *Flow) beginLocked() uint64 {
	f.busy = true
	f.errMsg = ""
	f.attempt++
	return f.attempt
}

// finishLocked reports whether the result of attempt is still current.
func (f *Flow) finishLocked(attempt uint64) bool {
	if attempt != f.attempt {
		return false
	}
	f.busy = false
	return true
}

// RequestCode asks the server to mail a code to email. The outcome looks the
// same whether or not the address is registered.
func (f *Flow) RequestCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.step != EmailEntry {
		f.mu.Unlock()
		return ErrWrongStep
	}
	f.email = email
	if !validate.Email(email) {
		f.errMsg = "enter a valid email address"
		f.mu.Unlock()
		return autherr.Field(autherr.Validation, "email", f.errMsg)
	}
	attempt := f.beginLocked()
	f.mu.Unlock()

	ttl, err := f.gw.RequestResetCode(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finishLocked(attempt) {
		return ErrSuperseded
	}
	if err != nil {
		f.errMsg = bannerFor(err)
		return err
	}
	f.issueLocked(email, ttl)
	f.step = CodeSent
	return nil
}

func (f *Flow) issueLocked(email string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	now := f.now()
	f.challenge = &Challenge{
		Email:         email,
		ExpiresAt:     now.Add(ttl),
		CooldownUntil: now.Add(Cooldown),
	}
	f.digits = ""
	f.message = SentMessage
}

// EnterDigits replaces the typed code. Non-digits are dropped and at most
// four digits are kept.
func (f *Flow) EnterDigits(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != CodeSent {
		return ErrWrongStep
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' && b.Len() < validate.ResetCodeLength {
			b.WriteRune(r)
		}
	}
	f.digits = b.String()
	f.errMsg = ""
	return nil
}

// VerifyCode checks the typed code with the server. A code past its local
// expiry is rejected without a round trip.
func (f *Flow) VerifyCode(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.step != CodeSent || f.challenge == nil {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if !validate.Code(f.digits) {
		f.errMsg = "enter the 4-digit code"
		f.mu.Unlock()
		return autherr.Field(autherr.Validation, "code", f.errMsg)
	}
	if !f.now().Before(f.challenge.ExpiresAt) {
		f.digits = ""
		f.errMsg = "this code has expired, request a new one"
		f.mu.Unlock()
		return autherr.New(autherr.InvalidOrExpiredCode, "code expired")
	}
	email, code := f.challenge.Email, f.digits
	attempt := f.beginLocked()
	f.mu.Unlock()

	err := f.gw.VerifyResetCode(ctx, email, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finishLocked(attempt) {
		return ErrSuperseded
	}
	if err != nil {
		if autherr.Is(err, autherr.InvalidOrExpiredCode) {
			f.digits = ""
			f.errMsg = "the code is invalid or has expired"
		} else {
			f.errMsg = bannerFor(err)
		}
		return err
	}
	f.challenge.Code = code
	f.challenge.VerifiedAt = f.now()
	f.step = CodeVerified
	f.message = ""
	return nil
}

// Resend requests a fresh code once the cooldown has passed.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.step != CodeSent || f.challenge == nil {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if CooldownRemaining(f.now(), f.challenge.CooldownUntil) > 0 {
		f.mu.Unlock()
		return ErrCooldownActive
	}
	email := f.challenge.Email
	attempt := f.beginLocked()
	f.mu.Unlock()

	ttl, err := f.gw.RequestResetCode(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finishLocked(attempt) {
		return ErrSuperseded
	}
	if err != nil {
		f.errMsg = bannerFor(err)
		return err
	}
	f.issueLocked(email, ttl)
	return nil
}

// SeedFromLink fills email and code from a reset link. The flow lands in
// CodeSent; VerifyCode must still succeed before a password can be set.
func (f *Flow) SeedFromLink(email, code string) error {
	email = strings.TrimSpace(email)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return ErrBusy
	}
	if f.step != EmailEntry {
		return ErrWrongStep
	}
	if !validate.Email(email) {
		return autherr.Field(autherr.Validation, "email", "enter a valid email address")
	}
	if !validate.Code(code) {
		return autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	now := f.now()
	f.email = email
	f.challenge = &Challenge{
		Email:         email,
		ExpiresAt:     now.Add(DefaultCodeTTL),
		CooldownUntil: now,
	}
	f.digits = code
	f.step = CodeSent
	return nil
}

// SubmitNewPassword sets the new password and, on success, signs the user in.
func (f *Flow) SubmitNewPassword(ctx context.Context, password, confirm string) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.step != CodeVerified || f.challenge == nil {
		f.mu.Unlock()
		return ErrWrongStep
	}
	f.fieldErrs = nil
	if field, msg := validate.Password(password, confirm); field != "" {
		f.fieldErrs = map[string]string{field: msg}
		f.mu.Unlock()
		return autherr.Field(autherr.Validation, field, msg)
	}
	email, code := f.challenge.Email, f.challenge.Code
	attempt := f.beginLocked()
	f.mu.Unlock()

	user, token, err := f.gw.ResetPassword(ctx, email, code, password, confirm)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finishLocked(attempt) {
		return ErrSuperseded
	}
	if err != nil {
		switch autherr.KindOf(err) {
		case autherr.InvalidOrExpiredCode:
			f.restartLocked()
			f.errMsg = RestartMessage
		case autherr.Validation:
			if field := autherr.FieldOf(err); field != "" {
				f.fieldErrs = map[string]string{field: bannerFor(err)}
			} else {
				f.errMsg = bannerFor(err)
			}
		default:
			f.errMsg = bannerFor(err)
		}
		return err
	}

	f.auth.SetAuthenticated(user, token)
	f.challenge = nil
	f.digits = ""
	f.step = Completed
	f.message = "Your password has been changed."
	f.log.Info("password reset completed", zap.String("user_id", user.ID))
	return nil
}

// Restart abandons the current attempt and returns to EmailEntry. The result
// of a call still in flight is discarded when it arrives.
func (f *Flow) Restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt++
	f.busy = false
	f.restartLocked()
	f.errMsg = ""
}

func (f *Flow) restartLocked() {
	f.step = EmailEntry
	f.challenge = nil
	f.digits = ""
	f.message = ""
	f.fieldErrs = nil
}

func bannerFor(err error) string {
	if autherr.KindOf(err) == autherr.Transport {
		return "could not reach the server, please try again"
	}
	var ae *autherr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
