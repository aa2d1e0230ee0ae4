// Package gateway is the client's only door to the network: one method per
// backend auth endpoint, each a single request without retries, failing with
// an *autherr.Error from the closed taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/atinyakov/CargoDesk/internal/validate"
	"go.uber.org/zap"
)

const (
	apiRegister       = "/auth/register"
	apiLogin          = "/auth/login"
	apiMe             = "/auth/me"
	apiLogout         = "/auth/logout"
	apiForgotPassword = "/auth/forgot-password"
	apiVerifyReset    = "/auth/verify-reset-code"
	apiResetPassword  = "/auth/reset-password"
	apiVerifyEmail    = "/auth/verify-email"
)

// DefaultCodeTTL is the documented lifetime of a one-time code, used when
// the backend does not announce one.
const DefaultCodeTTL = 10 * time.Minute

const maxResponseBytes = 1 << 20

// Gateway issues the auth requests against baseURL (for example
// "https://cargo.example/api").
type Gateway struct {
	client  *http.Client
	baseURL string
	log     *zap.Logger
}

// New returns a Gateway. client must carry a cookie jar for cookie sessions.
func New(client *http.Client, baseURL string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{client: client, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// Login exchanges credentials for the user and a session token.
func (g *Gateway) Login(ctx context.Context, email, password string) (models.User, string, error) {
	email = strings.TrimSpace(email)
	if !validate.Email(email) {
		return models.User{}, "", autherr.Field(autherr.Validation, "email", "enter a valid email address")
	}
	if password == "" {
		return models.User{}, "", autherr.Field(autherr.Validation, "password", "enter your password")
	}

	env, status, err := g.do(ctx, http.MethodPost, apiLogin, models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return models.User{}, "", err
	}
	if err := classify(env, status, loginFailure); err != nil {
		return models.User{}, "", err
	}
	if env.User == nil {
		return models.User{}, "", autherr.New(autherr.Transport, "login response carries no user")
	}
	return *env.User, env.Token, nil
}

// Register creates an unverified account.
func (g *Gateway) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	if err := checkRegister(req); err != nil {
		return models.User{}, err
	}
	env, status, err := g.do(ctx, http.MethodPost, apiRegister, req)
	if err != nil {
		return models.User{}, err
	}
	if err := classify(env, status, registerFailure); err != nil {
		return models.User{}, duplicateField(err)
	}
	if env.User == nil {
		return models.User{}, autherr.New(autherr.Transport, "register response carries no user")
	}
	return *env.User, nil
}

// CurrentUser returns the user of the live session.
func (g *Gateway) CurrentUser(ctx context.Context) (models.User, error) {
	env, status, err := g.do(ctx, http.MethodGet, apiMe, nil)
	if err != nil {
		return models.User{}, err
	}
	if err := classify(env, status, meFailure); err != nil {
		return models.User{}, err
	}
	if env.User == nil {
		return models.User{}, autherr.New(autherr.Unauthenticated, "no active session")
	}
	return *env.User, nil
}

// Logout ends the server session. Failures are logged and swallowed: the
// caller clears local state regardless.
func (g *Gateway) Logout(ctx context.Context) {
	env, status, err := g.do(ctx, http.MethodPost, apiLogout, nil)
	if err == nil {
		err = classify(env, status, func(int) autherr.Kind { return autherr.Transport })
	}
	if err != nil {
		g.log.Debug("logout not acknowledged", zap.Error(err))
	}
}

// RequestResetCode asks for a one-time reset code. The backend answers the
// same way whether or not the address is registered. It returns the code
// lifetime announced by the backend.
func (g *Gateway) RequestResetCode(ctx context.Context, email string) (time.Duration, error) {
	email = strings.TrimSpace(email)
	if !validate.Email(email) {
		return 0, autherr.Field(autherr.Validation, "email", "enter a valid email address")
	}
	env, status, err := g.do(ctx, http.MethodPost, apiForgotPassword, models.EmailRequest{Email: email})
	if err != nil {
		return 0, err
	}
	if err := classify(env, status, func(int) autherr.Kind { return autherr.Transport }); err != nil {
		return 0, err
	}
	if env.ExpiresIn > 0 {
		return time.Duration(env.ExpiresIn) * time.Second, nil
	}
	return DefaultCodeTTL, nil
}

// VerifyResetCode checks a code without consuming it.
func (g *Gateway) VerifyResetCode(ctx context.Context, email, code string) error {
	if !validate.Code(code) {
		return autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	env, status, err := g.do(ctx, http.MethodPost, apiVerifyReset, models.CodeRequest{Email: strings.TrimSpace(email), Code: code})
	if err != nil {
		return err
	}
	return classify(env, status, codeFailure)
}

// ResetPassword consumes the code, sets the new password and opens a session.
func (g *Gateway) ResetPassword(ctx context.Context, email, code, password, confirm string) (models.User, string, error) {
	if !validate.Code(code) {
		return models.User{}, "", autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	if field, msg := validate.Password(password, confirm); field != "" {
		return models.User{}, "", autherr.Field(autherr.Validation, field, msg)
	}
	req := models.ResetPasswordRequest{
		Email:           strings.TrimSpace(email),
		Code:            code,
		Password:        password,
		ConfirmPassword: confirm,
	}
	env, status, err := g.do(ctx, http.MethodPost, apiResetPassword, req)
	if err != nil {
		return models.User{}, "", err
	}
	if err := classify(env, status, codeFailure); err != nil {
		return models.User{}, "", err
	}

	user, token := env.User, env.Token
	if env.Data != nil {
		user, token = env.Data.User, env.Data.Token
	}
	if user == nil {
		return models.User{}, "", autherr.New(autherr.Transport, "reset response carries no user")
	}
	return *user, token, nil
}

// VerifyEmail confirms the address of a freshly registered account.
func (g *Gateway) VerifyEmail(ctx context.Context, email, code string) error {
	if !validate.Code(code) {
		return autherr.Field(autherr.Validation, "code", "enter the 4-digit code")
	}
	env, status, err := g.do(ctx, http.MethodPost, apiVerifyEmail, models.CodeRequest{Email: strings.TrimSpace(email), Code: code})
	if err != nil {
		return err
	}
	return classify(env, status, codeFailure)
}

func (g *Gateway) do(ctx context.Context, method, path string, body any) (*models.Envelope, int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, autherr.Wrap(autherr.Transport, "encode request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, 0, autherr.Wrap(autherr.Transport, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, autherr.Wrap(autherr.Transport, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, autherr.Wrap(autherr.Transport, "read response", err)
	}

	var env models.Envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			if resp.StatusCode < 300 {
				return nil, resp.StatusCode, autherr.Wrap(autherr.Transport, "invalid response", err)
			}
			env = models.Envelope{Message: strings.TrimSpace(string(data))}
		}
	}
	g.log.Debug("auth request", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
	return &env, resp.StatusCode, nil
}

// classify turns an unsuccessful envelope into an *autherr.Error. The
// envelope's code wins; otherwise byStatus decides from the HTTP status.
func classify(env *models.Envelope, status int, byStatus func(int) autherr.Kind) error {
	if status >= 200 && status < 300 && env.Success {
		return nil
	}
	kind, ok := autherr.KindFromCode(env.Code)
	if !ok {
		kind = byStatus(status)
	}
	if kind == autherr.Internal {
		kind = autherr.Transport
	}
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &autherr.Error{Kind: kind, Field: env.Field, Message: msg}
}

// duplicateField pins duplicate failures to the form field they belong to.
func duplicateField(err error) error {
	var ae *autherr.Error
	if !errors.As(err, &ae) {
		return err
	}
	switch {
	case ae.Kind == autherr.DuplicateEmail && ae.Field == "username":
		ae.Kind = autherr.DuplicateUsername
	case ae.Kind == autherr.DuplicateEmail:
		ae.Field = "email"
	case ae.Kind == autherr.DuplicateUsername:
		ae.Field = "username"
	}
	return ae
}

func loginFailure(status int) autherr.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusOK, http.StatusBadRequest:
		return autherr.InvalidCredentials
	case http.StatusLocked, http.StatusTooManyRequests:
		return autherr.AccountLocked
	case http.StatusForbidden:
		return autherr.AccountDeactivated
	}
	return autherr.Transport
}

func registerFailure(status int) autherr.Kind {
	switch status {
	case http.StatusConflict:
		return autherr.DuplicateEmail
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusOK:
		return autherr.Validation
	}
	return autherr.Transport
}

func meFailure(status int) autherr.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusOK:
		return autherr.Unauthenticated
	}
	return autherr.Transport
}

func codeFailure(status int) autherr.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone, http.StatusOK:
		return autherr.InvalidOrExpiredCode
	case http.StatusUnprocessableEntity:
		return autherr.Validation
	}
	return autherr.Transport
}

func checkRegister(req models.RegisterRequest) error {
	if !req.UserType.Valid() || req.UserType == models.Admin {
		return autherr.Field(autherr.Validation, "userType", "choose client or agent")
	}
	if !validate.Email(req.Email) {
		return autherr.Field(autherr.Validation, "email", "enter a valid email address")
	}
	required := map[string]string{
		"firstName": req.FirstName,
		"lastName":  req.LastName,
		"username":  req.Username,
		"phone":     req.Phone,
	}
	if req.UserType == models.Client {
		required["password"] = req.Password
		required["confirmPassword"] = req.ConfirmPassword
	} else {
		required["organizationType"] = req.OrganizationType
		required["activityType"] = req.ActivityType
	}
	for _, field := range []string{"firstName", "lastName", "username", "phone", "password", "confirmPassword", "organizationType", "activityType"} {
		if v, ok := required[field]; ok && strings.TrimSpace(v) == "" {
			return autherr.Field(autherr.Validation, field, "this field is required")
		}
	}
	return nil
}
