package storage

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"
)

// PersistentJar is an http.CookieJar for a single backend origin whose
// cookies are mirrored into LocalStorage, so a session cookie outlives the
// process the way a browser cookie does. The mirror is written to disk on
// the next LocalStorage.Save.
type PersistentJar struct {
	jar    *cookiejar.Jar
	store  *LocalStorage
	origin *url.URL

	mu     sync.Mutex
	byName map[string]StoredCookie
	now    func() time.Time
}

// NewPersistentJar restores the cookies held in store for origin.
func NewPersistentJar(store *LocalStorage, origin string) (*PersistentJar, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	pj := &PersistentJar{
		jar:    jar,
		store:  store,
		origin: u,
		byName: map[string]StoredCookie{},
		now:    time.Now,
	}

	var restore []*http.Cookie
	for _, c := range store.cookies() {
		if !c.Expires.IsZero() && !c.Expires.After(pj.now()) {
			continue
		}
		pj.byName[c.Name] = c
		restore = append(restore, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	if len(restore) > 0 {
		jar.SetCookies(u, restore)
	}
	pj.flush()
	return pj, nil
}

// SetCookies implements http.CookieJar.
func (pj *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	pj.jar.SetCookies(u, cookies)
	if u.Host != pj.origin.Host {
		return
	}

	pj.mu.Lock()
	now := pj.now()
	for _, c := range cookies {
		expired := c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now))
		if expired || c.Value == "" {
			delete(pj.byName, c.Name)
			continue
		}
		sc := StoredCookie{Name: c.Name, Value: c.Value, Path: c.Path}
		switch {
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			sc.Expires = c.Expires
		}
		pj.byName[c.Name] = sc
	}
	pj.mu.Unlock()
	pj.flush()
}

// Cookies implements http.CookieJar.
func (pj *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return pj.jar.Cookies(u)
}

// Names lists every cookie held for the origin host, whatever its path.
func (pj *PersistentJar) Names() []string {
	pj.mu.Lock()
	seen := make(map[string]bool, len(pj.byName))
	names := make([]string, 0, len(pj.byName))
	for name := range pj.byName {
		seen[name] = true
		names = append(names, name)
	}
	pj.mu.Unlock()

	for _, c := range pj.jar.Cookies(pj.origin) {
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Expire backdates the named cookie so the jar drops it.
func (pj *PersistentJar) Expire(name string) {
	path := "/"
	pj.mu.Lock()
	if c, ok := pj.byName[name]; ok && c.Path != "" {
		path = c.Path
	}
	pj.mu.Unlock()

	pj.SetCookies(pj.origin, []*http.Cookie{{
		Name:    name,
		Path:    path,
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	}})
}

func (pj *PersistentJar) flush() {
	pj.mu.Lock()
	out := make([]StoredCookie, 0, len(pj.byName))
	for _, c := range pj.byName {
		out = append(out, c)
	}
	pj.mu.Unlock()
	pj.store.setCookies(out)
}
