// Package http provides the HTTP handlers of the account API: registration,
// sign-in, sessions, password reset and email verification.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/middleware"
	"github.com/atinyakov/CargoDesk/internal/models"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// AuthService defines the account operations required by the handlers.
type AuthService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, string, error)
	CurrentUser(ctx context.Context, token string) (*models.User, error)
	Logout(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) (time.Duration, error)
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, req models.ResetPasswordRequest) (*models.User, string, error)
	VerifyEmail(ctx context.Context, email, code string) error
	SessionTTL() time.Duration
}

// AuthHandler handles the /auth endpoints.
type AuthHandler struct {
	// AuthService performs the underlying account operations.
	AuthService AuthService
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
	// Metrics counts outcomes per operation; may be nil.
	Metrics *AuthMetrics
	Log     *zap.Logger
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.AuthService.Register(r.Context(), req)
	h.Metrics.observe("register", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.Envelope{Success: true, User: user})
}

// Login handles POST /auth/login. The session token is set as the sid
// cookie and also returned in the body for non-browser clients.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, token, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	h.Metrics.observe("login", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setSession(w, token)
	writeJSON(w, http.StatusOK, models.Envelope{Success: true, User: user, Token: token})
}

// Me handles GET /auth/me. It runs behind middleware.SessionAuth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		h.writeError(w, autherr.New(autherr.Unauthenticated, "not signed in"))
		return
	}
	writeJSON(w, http.StatusOK, models.Envelope{Success: true, User: user})
}

// Logout handles POST /auth/logout. It runs behind middleware.SessionAuth.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.AuthService.Logout(r.Context(), middleware.TokenFromContext(r.Context()))
	h.Metrics.observe("logout", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.clearSession(w)
	writeJSON(w, http.StatusOK, models.Envelope{Success: true, Message: "signed out"})
}

// ForgotPassword handles POST /auth/forgot-password. The answer does not
// depend on whether the address is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	ttl, err := h.AuthService.RequestPasswordReset(r.Context(), req.Email)
	h.Metrics.observe("forgot_password", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Envelope{
		Success:   true,
		Message:   "If this email is registered, a code has been sent.",
		ExpiresIn: int(ttl / time.Second),
	})
}

// VerifyResetCode handles POST /auth/verify-reset-code.
func (h *AuthHandler) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req models.CodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.AuthService.VerifyResetCode(r.Context(), req.Email, req.Code)
	h.Metrics.observe("verify_reset_code", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Envelope{Success: true})
}

// ResetPassword handles POST /auth/reset-password and signs the user in.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, token, err := h.AuthService.ResetPassword(r.Context(), req)
	h.Metrics.observe("reset_password", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setSession(w, token)
	writeJSON(w, http.StatusOK, models.Envelope{
		Success: true,
		Data:    &models.AuthData{User: user, Token: token},
	})
}

// VerifyEmail handles POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req models.CodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.AuthService.VerifyEmail(r.Context(), req.Email, req.Code)
	h.Metrics.observe("verify_email", err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Envelope{Success: true})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, autherr.Wrap(autherr.Validation, "invalid request", err))
		return false
	}
	return true
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.AuthService.SessionTTL() / time.Second),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError answers with the envelope of err. Unclassified errors and
// Internal ones are reported without detail.
func (h *AuthHandler) writeError(w http.ResponseWriter, err error) {
	var ae *autherr.Error
	if !errors.As(err, &ae) || ae.Kind == autherr.Internal || ae.Kind == autherr.Transport {
		if h.Log != nil {
			h.Log.Error("request failed", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, models.Envelope{
			Message: "internal error",
			Code:    autherr.Internal.String(),
		})
		return
	}
	writeJSON(w, ae.Kind.Status(), models.Envelope{
		Message: ae.Message,
		Code:    ae.Kind.String(),
		Field:   ae.Field,
	})
}

func writeJSON(w http.ResponseWriter, status int, body models.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
