package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/mockview/pkg/provider/stt"
)

// CredentialSource resolves the credential for a new transcription session.
type CredentialSource interface {
	Credential(ctx context.Context) (stt.Credential, error)
}

// CredentialFunc adapts a function to [CredentialSource].
type CredentialFunc func(ctx context.Context) (stt.Credential, error)

// Credential calls f.
func (f CredentialFunc) Credential(ctx context.Context) (stt.Credential, error) {
	return f(ctx)
}

// APIKey returns a source for a user-supplied provider key (bring your own
// key). An empty key yields [ErrMissingCredential].
func APIKey(key string) CredentialSource {
	return CredentialFunc(func(context.Context) (stt.Credential, error) {
		if key == "" {
			return stt.Credential{}, ErrMissingCredential
		}
		return stt.Credential{Kind: stt.CredentialAPIKey, Value: key}, nil
	})
}

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 5 * time.Second

// TokenCache wraps a backend token fetch and reuses the short-lived token
// until shortly before it expires.
type TokenCache struct {
	fetch CredentialFunc
	now   func() time.Time

	mu  sync.Mutex
	cur stt.Credential
}

// NewTokenCache returns a TokenCache calling fetch on a miss.
func NewTokenCache(fetch CredentialFunc) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

// Credential returns the cached token or fetches a new one.
func (c *TokenCache) Credential(ctx context.Context) (stt.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.Valid(c.now().Add(tokenRefreshMargin)) {
		return c.cur, nil
	}
	cred, err := c.fetch(ctx)
	if err != nil {
		return stt.Credential{}, fmt.Errorf("speech: fetch transcription token: %w", err)
	}
	c.cur = cred
	return cred, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.cur = stt.Credential{}
	c.mu.Unlock()
}
