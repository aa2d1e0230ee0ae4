package http

import (
	"net/http"

	"github.com/atinyakov/CargoDesk/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter constructs the HTTP handler of the account API.
//
// Routes:
//
//	POST /api/auth/register
//	POST /api/auth/login
//	GET  /api/auth/me            (session required)
//	POST /api/auth/logout        (session required)
//	POST /api/auth/forgot-password
//	POST /api/auth/verify-reset-code
//	POST /api/auth/reset-password
//	POST /api/auth/verify-email
//	GET  /metrics                gathered from gatherer
//
// Bodies of the /api routes must be JSON.
func NewRouter(authHandler *AuthHandler, httpMetrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(httpMetrics.Handler)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/auth", func(r chi.Router) {
		// Only allow requests with Content-Type: application/json
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/verify-reset-code", authHandler.VerifyResetCode)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Post("/verify-email", authHandler.VerifyEmail)

		// Protected group: requires a live session
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(authHandler.AuthService))
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
		})
	})

	return r
}
