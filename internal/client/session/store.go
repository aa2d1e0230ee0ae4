// Package session owns the client's single authoritative Session and the
// durable state behind it. Every mutation goes through Store; other
// components only read snapshots.
package session

import (
	"sync"

	"github.com/atinyakov/CargoDesk/internal/models"
	"go.uber.org/zap"
)

// Status is the client's belief about authentication.
type Status int

const (
	// Unknown exists only until the bootstrap has resolved.
	Unknown Status = iota
	Anonymous
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// FlagKey is the durable "was authenticated" hint.
const FlagKey = "isAuthenticated"

// LegacyKeys is every durable key the portal and CRM have ever written for
// session state. ForcePurge removes all of them.
var LegacyKeys = []string{
	FlagKey,
	"user",
	"userType",
	"token",
	"authToken",
	"accessToken",
	"refreshToken",
	"session",
	"sessionId",
	"registrationDraft",
	"registrationRole",
	"pendingVerificationEmail",
	"resetEmail",
	"resetCode",
	"resetCooldownUntil",
}

// Session is a point-in-time copy of the authentication state.
type Session struct {
	Status Status
	User   *models.User
	// Token is the opaque session credential; with cookie transport it is
	// only a reference.
	Token     string
	LastError error
}

// Durable is the persistent key/value store behind the session.
type Durable interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string) bool
	Save() error
}

// CookiePurger enumerates and expires the origin's cookies.
type CookiePurger interface {
	Names() []string
	Expire(name string)
}

// Ticket identifies the store state a request was started from. See
// SetAuthenticatedIf.
type Ticket uint64

// Store holds the Session. The zero value is not usable; use NewStore.
type Store struct {
	mu      sync.RWMutex
	s       Session
	gen     uint64
	durable Durable
	cookies CookiePurger
	log     *zap.Logger
}

// NewStore returns a store in the Unknown state. cookies may be nil when the
// transport keeps no cookies.
func NewStore(durable Durable, cookies CookiePurger, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{durable: durable, cookies: cookies, log: log}
}

// Snapshot returns a deep copy of the current session.
func (st *Store) Snapshot() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := st.s
	if st.s.User != nil {
		u := *st.s.User
		out.User = &u
	}
	return out
}

// Status returns the current status.
func (st *Store) Status() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Status
}

// HasFlag reports whether the durable "was authenticated" hint is set.
func (st *Store) HasFlag() bool {
	v, ok := st.durable.Get(FlagKey)
	return ok && v == "true"
}

// Ticket returns a marker of the current state for a request about to start.
func (st *Store) Ticket() Ticket {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return Ticket(st.gen)
}

// SetAuthenticated stores user and token and sets the durable flag.
func (st *Store) SetAuthenticated(user models.User, token string) {
	st.mu.Lock()
	st.setAuthenticatedLocked(user, token)
	st.mu.Unlock()
	st.persist()
}

// SetAuthenticatedIf applies SetAuthenticated only when nothing mutated the
// store since t was taken. A false result means the response is stale and
// was discarded.
func (st *Store) SetAuthenticatedIf(t Ticket, user models.User, token string) bool {
	st.mu.Lock()
	if uint64(t) != st.gen {
		st.mu.Unlock()
		st.log.Debug("discarding stale authentication result", zap.Uint64("ticket", uint64(t)))
		return false
	}
	st.setAuthenticatedLocked(user, token)
	st.mu.Unlock()
	st.persist()
	return true
}

func (st *Store) setAuthenticatedLocked(user models.User, token string) {
	u := user
	st.s = Session{Status: Authenticated, User: &u, Token: token}
	st.gen++
	st.durable.Set(FlagKey, "true")
}

// Clear resets to Anonymous and removes the durable flag. It is idempotent.
func (st *Store) Clear() {
	st.mu.Lock()
	st.clearLocked()
	st.mu.Unlock()
	st.persist()
}

// ClearIf applies Clear only when nothing mutated the store since t.
func (st *Store) ClearIf(t Ticket) bool {
	st.mu.Lock()
	if uint64(t) != st.gen {
		st.mu.Unlock()
		return false
	}
	st.clearLocked()
	st.mu.Unlock()
	st.persist()
	return true
}

func (st *Store) clearLocked() {
	st.s = Session{Status: Anonymous}
	st.gen++
	st.durable.Delete(FlagKey)
}

// ForcePurge clears the session and erases every legacy durable key and
// every cookie of the backend origin. Safe with no prior state.
func (st *Store) ForcePurge() {
	st.mu.Lock()
	st.clearLocked()
	removed := 0
	for _, k := range LegacyKeys {
		if st.durable.Delete(k) {
			removed++
		}
	}
	var expired []string
	if st.cookies != nil {
		for _, name := range st.cookies.Names() {
			st.cookies.Expire(name)
			expired = append(expired, name)
		}
	}
	st.mu.Unlock()

	st.log.Info("session purged", zap.Int("keys_removed", removed), zap.Strings("cookies_expired", expired))
	st.persist()
}

// UserPatch lists the profile fields PatchUser may change; nil fields are
// left alone.
type UserPatch struct {
	FirstName       *string
	LastName        *string
	Phone           *string
	CompanyName     *string
	Language        *string
	IsEmailVerified *bool
	LoyaltyDiscount *float64
}

// PatchUser shallow-merges p into the user. It is a no-op unless the
// session is Authenticated.
func (st *Store) PatchUser(p UserPatch) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.Status != Authenticated || st.s.User == nil {
		return
	}
	u := *st.s.User
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.CompanyName != nil {
		u.CompanyName = *p.CompanyName
	}
	if p.Language != nil {
		u.Language = *p.Language
	}
	if p.IsEmailVerified != nil {
		u.IsEmailVerified = *p.IsEmailVerified
	}
	if p.LoyaltyDiscount != nil {
		u.LoyaltyDiscount = *p.LoyaltyDiscount
	}
	st.s.User = &u
}

// RecordError remembers the last failure surfaced to the user. It does not
// change the status.
func (st *Store) RecordError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.LastError = err
}

func (st *Store) persist() {
	if err := st.durable.Save(); err != nil {
		st.log.Warn("failed to persist session state", zap.Error(err))
	}
}
