// Package storage is the client's durable state: a small JSON file holding
// string keys and the cookies of the backend origin. It is the analogue of a
// browser's local storage and cookie store.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultPath is the state file used when none is configured.
const DefaultPath = "cargodesk_state.json"

// StoredCookie is the persisted form of an http.Cookie.
type StoredCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Domain  string    `json:"domain,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// LocalStorage is a file-backed key/value store. All methods are safe for
// concurrent use. Mutations are kept in memory until Save.
type LocalStorage struct {
	Values  map[string]string `json:"keys"`
	Cookies []StoredCookie    `json:"cookies"`

	path string
	mu   sync.Mutex
}

// New returns an empty store bound to path.
func New(path string) *LocalStorage {
	if path == "" {
		path = DefaultPath
	}
	return &LocalStorage{Values: map[string]string{}, path: path}
}

// Load reads the state file. A missing file yields an empty store.
func (ls *LocalStorage) Load() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	f, err := os.Open(ls.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			ls.Values = map[string]string{}
			ls.Cookies = nil
			return nil
		}
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(ls); err != nil {
		return err
	}
	if ls.Values == nil {
		ls.Values = map[string]string{}
	}
	return nil
}

// Save writes the state file with owner-only permissions.
func (ls *LocalStorage) Save() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	f, err := os.OpenFile(ls.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(ls)
}

// Get returns the value stored under key.
func (ls *LocalStorage) Get(key string) (string, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	v, ok := ls.Values[key]
	return v, ok
}

// Set stores value under key.
func (ls *LocalStorage) Set(key, value string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.Values == nil {
		ls.Values = map[string]string{}
	}
	ls.Values[key] = value
}

// Delete removes key. It reports whether the key was present.
func (ls *LocalStorage) Delete(key string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, ok := ls.Values[key]; !ok {
		return false
	}
	delete(ls.Values, key)
	return true
}

// Keys returns the stored key names in sorted order.
func (ls *LocalStorage) Keys() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]string, 0, len(ls.Values))
	for k := range ls.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (ls *LocalStorage) cookies() []StoredCookie {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]StoredCookie(nil), ls.Cookies...)
}

func (ls *LocalStorage) setCookies(c []StoredCookie) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.Cookies = c
}
