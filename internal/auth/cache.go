package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures the token cache.
type CacheConfig struct {
	Validity time.Duration // How long an issued token is reused
}

// DefaultCacheConfig returns sensible defaults.
// Broker tokens live 24h; reuse them for 23h.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Validity: 23 * time.Hour,
	}
}

// TokenCache caches one bearer token per credential identity.
type TokenCache struct {
	cfg     CacheConfig
	authn   Authenticator
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*oauth2.Token

	// One handshake in flight per credential.
	inflight singleflight.Group
}

// NewTokenCache creates a token cache backed by authn.
func NewTokenCache(cfg CacheConfig, authn Authenticator, logger *slog.Logger, m *metrics.Metrics) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New("")
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultCacheConfig().Validity
	}
	return &TokenCache{
		cfg:     cfg,
		authn:   authn,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*oauth2.Token),
	}
}

// Get returns a cached token for cred, performing a handshake on a miss or
// after expiry.
func (c *TokenCache) Get(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	if cred.Empty() {
		return nil, fmt.Errorf("%w: missing user name or api key", ErrCredentialsInvalid)
	}

	key := cred.Identity()
	if tok := c.lookup(key); tok != nil {
		return tok, nil
	}

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		if tok := c.lookup(key); tok != nil {
			return tok, nil
		}
		return c.handshake(ctx, key, cred)
	})
	if err != nil {
		return nil, err
	}

	tok := *v.(*oauth2.Token)
	return &tok, nil
}

// Invalidate drops the cached token for cred so the next Get re-authenticates.
func (c *TokenCache) Invalidate(cred Credential) {
	key := cred.Identity()

	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		c.logger.Info("broker token invalidated", "credential", cred)
	}
}

// Clear drops every cached token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*oauth2.Token)
	c.mu.Unlock()
}

// Len returns the number of cached tokens, expired ones included.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Bind returns a TokenProvider scoped to a single credential.
func (c *TokenCache) Bind(cred Credential) TokenProvider {
	return &boundProvider{cache: c, cred: cred}
}

func (c *TokenCache) lookup(key string) *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tok, ok := c.entries[key]
	if !ok || !c.now().Before(tok.Expiry) {
		return nil
	}
	cp := *tok
	return &cp
}

func (c *TokenCache) handshake(ctx context.Context, key string, cred Credential) (*oauth2.Token, error) {
	start := c.now()

	access, err := c.authn.LoginKey(ctx, cred)
	if err != nil {
		c.metrics.TokenHandshakes.WithLabelValues("error").Inc()
		c.logger.Warn("broker authentication failed", "credential", cred, "error", err)
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      start.Add(c.cfg.Validity),
	}

	c.mu.Lock()
	c.entries[key] = tok
	c.mu.Unlock()

	c.metrics.TokenHandshakes.WithLabelValues("ok").Inc()
	c.logger.Info("broker token issued", "credential", cred, "expires_at", tok.Expiry)

	return tok, nil
}

// boundProvider ties a cache to one credential.
type boundProvider struct {
	cache *TokenCache
	cred  Credential
}

func (b *boundProvider) Token(ctx context.Context) (*oauth2.Token, error) {
	return b.cache.Get(ctx, b.cred)
}

func (b *boundProvider) Invalidate() {
	b.cache.Invalidate(b.cred)
}
