package auth

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"mercator-hq/parley/pkg/config"
)

// HeaderAPIKey is the alternative to a bearer token.
const HeaderAPIKey = "X-API-Key"

// KeySet validates API keys. Keys are indexed by digest so a lookup never
// compares secrets byte by byte.
type KeySet struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]*APIKey
}

// NewKeySet creates a KeySet from keys.
func NewKeySet(keys ...*APIKey) *KeySet {
	ks := &KeySet{keys: make(map[[sha256.Size]byte]*APIKey, len(keys))}
	for _, k := range keys {
		ks.Add(k)
	}
	return ks
}

// FromConfig creates a KeySet from configured keys.
func FromConfig(cfg *config.AuthConfig) *KeySet {
	ks := NewKeySet()
	for _, k := range cfg.Keys {
		ks.Add(&APIKey{Name: k.Name, Key: k.Key, Enabled: !k.Disabled})
	}
	return ks
}

// Add registers or replaces a key.
func (ks *KeySet) Add(k *APIKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[sha256.Sum256([]byte(k.Key))] = k
}

// Len returns the number of registered keys.
func (ks *KeySet) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// Validate resolves key to its APIKey.
func (ks *KeySet) Validate(key string) (*APIKey, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	ks.mu.RLock()
	info, ok := ks.keys[sha256.Sum256([]byte(key))]
	ks.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidKey
	}
	if !info.Enabled {
		return nil, ErrKeyDisabled
	}
	return info, nil
}

// Authenticate extracts the key from r and validates it.
func (ks *KeySet) Authenticate(r *http.Request) (*APIKey, error) {
	return ks.Validate(FromRequest(r))
}

// FromRequest returns the bearer token, or the X-API-Key header when there
// is none.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

type contextKey struct{}

// WithKey returns a context carrying k.
func WithKey(ctx context.Context, k *APIKey) context.Context {
	return context.WithValue(ctx, contextKey{}, k)
}

// KeyFromContext returns the authenticated key, if any.
func KeyFromContext(ctx context.Context) (*APIKey, bool) {
	k, ok := ctx.Value(contextKey{}).(*APIKey)
	return k, ok
}
