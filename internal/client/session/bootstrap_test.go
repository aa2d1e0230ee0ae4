package session

import (
	"context"
	"testing"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeFetcher struct {
	calls int
	user  models.User
	err   error
}

func (f *fakeFetcher) CurrentUser(context.Context) (models.User, error) {
	f.calls++
	return f.user, f.err
}

func TestBootstrap_NoFlagSkipsNetwork(t *testing.T) {
	st := NewStore(newMemDurable(), nil, nil)
	f := &fakeFetcher{user: ann()}

	got := NewBootstrapper(st, f, nil).Run(context.Background())
	assert.Equal(t, Anonymous, got)
	assert.Zero(t, f.calls)
}

func TestBootstrap_FlagAndLiveSession(t *testing.T) {
	d := newMemDurable()
	d.keys[FlagKey] = "true"
	st := NewStore(d, nil, nil)
	f := &fakeFetcher{user: ann()}

	got := NewBootstrapper(st, f, nil).Run(context.Background())
	assert.Equal(t, Authenticated, got)
	assert.Equal(t, "ann@cargo.test", st.Snapshot().User.Email)
	assert.Equal(t, 1, f.calls)
}

func TestBootstrap_ExpiredSessionIsSilent(t *testing.T) {
	for _, err := range []error{
		autherr.New(autherr.Unauthenticated, "expired"),
		autherr.New(autherr.Transport, "connection refused"),
	} {
		d := newMemDurable()
		d.keys[FlagKey] = "true"
		st := NewStore(d, nil, nil)

		got := NewBootstrapper(st, &fakeFetcher{err: err}, nil).Run(context.Background())
		assert.Equal(t, Anonymous, got)
		assert.False(t, st.HasFlag())
		assert.NoError(t, st.Snapshot().LastError)
	}
}

func TestBootstrap_RunsOnce(t *testing.T) {
	d := newMemDurable()
	d.keys[FlagKey] = "true"
	st := NewStore(d, nil, nil)
	f := &fakeFetcher{user: ann()}
	b := NewBootstrapper(st, f, nil)

	b.Run(context.Background())
	st.Clear()
	assert.Equal(t, Anonymous, b.Run(context.Background()))
	assert.Equal(t, 1, f.calls)
}

func TestBootstrap_AfterForcePurge(t *testing.T) {
	d := newMemDurable()
	st := NewStore(d, &fakeCookies{names: []string{"sid"}}, nil)
	st.SetAuthenticated(ann(), "tok")
	st.ForcePurge()

	fresh := NewStore(d, nil, nil)
	f := &fakeFetcher{user: ann()}
	assert.Equal(t, Anonymous, NewBootstrapper(fresh, f, nil).Run(context.Background()))
	assert.Zero(t, f.calls)
}
