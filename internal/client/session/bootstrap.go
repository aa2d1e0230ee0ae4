package session

import (
	"context"
	"sync"

	"github.com/atinyakov/CargoDesk/internal/models"
	"go.uber.org/zap"
)

// UserFetcher resolves the user behind the live session credential.
type UserFetcher interface {
	CurrentUser(ctx context.Context) (models.User, error)
}

// Bootstrapper resolves the Unknown status once per process.
type Bootstrapper struct {
	store   *Store
	fetcher UserFetcher
	log     *zap.Logger
	once    sync.Once
}

// NewBootstrapper wires the bootstrap to its store and fetcher.
func NewBootstrapper(store *Store, fetcher UserFetcher, log *zap.Logger) *Bootstrapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bootstrapper{store: store, fetcher: fetcher, log: log}
}

// Run resolves the session to Anonymous or Authenticated. Only the first call
// does anything. Failures are never returned: an expired session silently
// becomes Anonymous.
func (b *Bootstrapper) Run(ctx context.Context) Status {
	b.once.Do(func() { b.run(ctx) })
	return b.store.Status()
}

func (b *Bootstrapper) run(ctx context.Context) {
	if !b.store.HasFlag() {
		b.store.Clear()
		return
	}

	t := b.store.Ticket()
	user, err := b.fetcher.CurrentUser(ctx)
	if err != nil {
		b.log.Debug("session restore failed", zap.Error(err))
		b.store.ClearIf(t)
		return
	}
	b.store.SetAuthenticatedIf(t, user, "")
}
