// Package app is the client's composition root. It owns the single session
// store and hands it to the flows that need it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/client/gateway"
	"github.com/atinyakov/CargoDesk/internal/client/guard"
	"github.com/atinyakov/CargoDesk/internal/client/registration"
	"github.com/atinyakov/CargoDesk/internal/client/reset"
	"github.com/atinyakov/CargoDesk/internal/client/session"
	"github.com/atinyakov/CargoDesk/internal/client/storage"
	"github.com/atinyakov/CargoDesk/internal/validate"
	"go.uber.org/zap"
)

var (
	// ErrSuperseded is returned when a login result arrived after another
	// session change and was discarded.
	ErrSuperseded = errors.New("session changed while the request was in flight")
	// ErrUnknownPage is returned by Navigate for paths outside the portal.
	ErrUnknownPage = errors.New("page not found")
)

// Config holds client settings.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api.
	BaseURL   string
	StatePath string
	CAFile    string
	Timeout   time.Duration
	Language  string
	Logger    *zap.Logger
}

// App wires the client components together.
type App struct {
	store *session.Store
	gw    *gateway.Gateway
	boot  *session.Bootstrapper
	state *storage.LocalStorage
	log   *zap.Logger
	lang  string
}

// New loads the durable state and builds the client.
func New(cfg Config) (*App, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StatePath == "" {
		cfg.StatePath = storage.DefaultPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = gateway.DefaultTimeout
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	state := storage.New(cfg.StatePath)
	if err := state.Load(); err != nil {
		return nil, fmt.Errorf("load client state: %w", err)
	}
	jar, err := storage.NewPersistentJar(state, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	client, err := gateway.NewHTTPClient(jar, cfg.Timeout, cfg.CAFile)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(client, cfg.BaseURL, log.Named("gateway"))
	store := session.NewStore(state, jar, log.Named("session"))
	return &App{
		store: store,
		gw:    gw,
		boot:  session.NewBootstrapper(store, gw, log.Named("bootstrap")),
		state: state,
		log:   log,
		lang:  cfg.Language,
	}, nil
}

// Bootstrap restores a previous session if there is one. Only the first
// call does any work.
func (a *App) Bootstrap(ctx context.Context) session.Status {
	return a.boot.Run(ctx)
}

// Session returns the current session.
func (a *App) Session() session.Session {
	return a.store.Snapshot()
}

// Login signs in. A result that arrives after another session change is
// discarded and reported as ErrSuperseded.
func (a *App) Login(ctx context.Context, email, password string) (session.Session, error) {
	t := a.store.Ticket()
	user, token, err := a.gw.Login(ctx, validate.NormalizeEmail(email), password)
	if err != nil {
		a.store.RecordError(err)
		return a.store.Snapshot(), err
	}
	if !a.store.SetAuthenticatedIf(t, user, token) {
		a.log.Debug("discarding stale login result")
		return a.store.Snapshot(), ErrSuperseded
	}
	a.log.Info("signed in", zap.String("user_id", user.ID), zap.String("user_type", string(user.UserType)))
	return a.store.Snapshot(), nil
}

// Logout ends the session. The local session is cleared even when the
// server cannot be reached.
func (a *App) Logout(ctx context.Context) {
	a.gw.Logout(ctx)
	a.store.Clear()
}

// Purge erases every piece of session state the client may have stored.
func (a *App) Purge() {
	a.store.ForcePurge()
}

// Refresh re-reads the profile from the server. An expired session is
// cleared and reported as Unauthenticated.
func (a *App) Refresh(ctx context.Context) (session.Session, error) {
	if a.store.Status() != session.Authenticated {
		return a.store.Snapshot(), autherr.New(autherr.Unauthenticated, "not signed in")
	}
	t := a.store.Ticket()
	user, err := a.gw.CurrentUser(ctx)
	if err != nil {
		if autherr.Is(err, autherr.Unauthenticated) {
			a.store.ClearIf(t)
		} else {
			a.store.RecordError(err)
		}
		return a.store.Snapshot(), err
	}
	a.store.PatchUser(session.UserPatch{
		FirstName:       &user.FirstName,
		LastName:        &user.LastName,
		Phone:           &user.Phone,
		CompanyName:     &user.CompanyName,
		Language:        &user.Language,
		IsEmailVerified: &user.IsEmailVerified,
		LoyaltyDiscount: &user.LoyaltyDiscount,
	})
	return a.store.Snapshot(), nil
}

// VerifyEmail confirms an address with the code mailed after registration.
// When the address belongs to the signed-in user the profile is updated.
func (a *App) VerifyEmail(ctx context.Context, email, code string) error {
	email = validate.NormalizeEmail(email)
	if err := a.gw.VerifyEmail(ctx, email, code); err != nil {
		return err
	}
	s := a.store.Snapshot()
	if s.User != nil && validate.NormalizeEmail(s.User.Email) == email {
		verified := true
		a.store.PatchUser(session.UserPatch{IsEmailVerified: &verified})
	}
	return nil
}

// NewRegistration opens a sign-up wizard.
func (a *App) NewRegistration() *registration.Flow {
	return registration.NewFlow(a.gw, a.lang, a.log.Named("registration"))
}

// NewPasswordReset opens a forgot-password flow that signs the user in on
// completion.
func (a *App) NewPasswordReset(opts ...reset.Option) *reset.Flow {
	opts = append([]reset.Option{reset.WithLogger(a.log.Named("reset"))}, opts...)
	return reset.NewFlow(a.gw, a.store, opts...)
}

// Navigate decides what the page at path may show for the current session.
func (a *App) Navigate(path string) (guard.Route, guard.Decision, error) {
	r, ok := guard.Lookup(path)
	if !ok {
		return guard.Route{}, guard.Decision{}, fmt.Errorf("%w: %s", ErrUnknownPage, path)
	}
	return r, guard.Decide(a.store.Snapshot(), r.Requirements), nil
}

// Close writes pending cookie changes to disk.
func (a *App) Close() error {
	return a.state.Save()
}
