// Package main initializes and starts the CargoDesk account server,
// setting up configuration, logging, database and Redis connections,
// repositories, services and handlers.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/CargoDesk/internal/config"
	"github.com/atinyakov/CargoDesk/internal/db"
	"github.com/atinyakov/CargoDesk/internal/logger"
	"github.com/atinyakov/CargoDesk/internal/middleware"
	"github.com/atinyakov/CargoDesk/internal/repository"
	"github.com/atinyakov/CargoDesk/internal/server/handler/http"
	"github.com/atinyakov/CargoDesk/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Remove expired sessions in the background.
	db.StartExpiredSessionCleaner(ctx, postgresDB, options.CleanupInterval, zapLogger)

	// Initialize Redis for one-time codes.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     options.RedisAddr,
		Password: options.RedisPassword,
		DB:       options.RedisDB,
	})
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		zapLogger.Fatal("cannot reach redis", zap.String("addr", options.RedisAddr), zap.Error(err))
	}

	// Initialize repositories.
	userRepo := repository.NewPostgresUserRepository(postgresDB)
	sessionRepo := repository.NewPostgresSessionRepository(postgresDB)
	codeStore := repository.NewRedisCodeStore(redisClient, "cargodesk:code")

	// Initialize business-logic services.
	authService := service.NewAuthService(userRepo, sessionRepo, codeStore,
		service.LogMailer{Log: zapLogger},
		service.Settings{
			CodeTTL:          options.CodeTTL,
			ResendCooldown:   options.ResendCooldown,
			MaxCodeAttempts:  options.MaxCodeAttempts,
			MaxLoginFailures: options.MaxLoginFailures,
			LockoutDuration:  options.LockoutDuration,
			SessionTTL:       options.SessionTTL,
		},
		zapLogger,
	)

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := middleware.NewHTTPMetrics(registry)
	if err != nil {
		zapLogger.Fatal("failed to register http metrics", zap.Error(err))
	}
	authMetrics, err := http.NewAuthMetrics(registry)
	if err != nil {
		zapLogger.Fatal("failed to register auth metrics", zap.Error(err))
	}

	authHandler := &http.AuthHandler{
		AuthService:  authService,
		CookieSecure: options.CookieSecure,
		Metrics:      authMetrics,
		Log:          zapLogger,
	}

	// Build the router with middleware and routes.
	router := http.NewRouter(authHandler, httpMetrics, registry, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	if options.TLSCert != "" {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		err = server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
	} else {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
	// Let queued reset codes reach the mailer.
	authService.Wait()
	zapLogger.Info("server stopped")
}
