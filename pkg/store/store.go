// Package store defines the session, token, and PKCE storage contracts
// shared by every backend. Concurrency safety for the OAuth flow comes
// entirely from these contracts (atomic consumption, TTL-as-absence),
// never from in-process locks in the callers, so backends may be shared
// across server processes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/authrelay/authrelay/pkg/types"
)

// ErrNotFound is returned when a key is absent or past its TTL. A key
// whose entry expired but was not yet physically purged behaves
// identically to one that never existed.
var ErrNotFound = errors.New("store: not found")

const (
	// SessionTTL bounds one in-flight authorization attempt.
	SessionTTL = 10 * time.Minute

	// PKCETTL follows the RFC 6749 authorization-code lifetime guidance.
	PKCETTL = 600 * time.Second

	// AccessTokenTTL is the lifetime of relay-minted access tokens.
	AccessTokenTTL = time.Hour

	// RefreshTokenTTL bounds how long a token record stays resolvable
	// by its refresh token.
	RefreshTokenTTL = 30 * 24 * time.Hour

	// ExpirySkewBuffer is subtracted from a token's expiry on lookup so
	// a token never validates within a clock-skew race of expiring.
	ExpirySkewBuffer = 60 * time.Second

	// CleanupInterval is how often the background cleanup runs.
	CleanupInterval = 5 * time.Minute
)

// PKCEKey builds the namespaced PKCE mapping key for a provider/code
// pair. The namespace keeps two providers that coincidentally issue the
// same short-lived code from colliding.
func PKCEKey(provider types.ProviderType, code string) string {
	return string(provider) + ":" + code
}

// TokenExpired reports whether a token's expiry, shaved by the skew
// buffer, has passed.
func TokenExpired(expiresAt time.Time) bool {
	return !time.Now().Before(expiresAt.Add(-ExpirySkewBuffer))
}

// SessionStore keeps in-flight authorization sessions keyed by state.
type SessionStore interface {
	GetSession(ctx context.Context, state string) (*types.OAuthSession, error)
	PutSession(ctx context.Context, session *types.OAuthSession, ttl time.Duration) error
	DeleteSession(ctx context.Context, state string) error
}

// TokenStore keeps relay-minted tokens keyed by access token, with a
// reverse index by refresh token.
type TokenStore interface {
	// GetToken treats a token past its buffered expiry as absent and
	// lazily evicts it unless a refresh token still references it.
	GetToken(ctx context.Context, accessToken string) (*types.StoredTokenInfo, error)
	PutToken(ctx context.Context, info *types.StoredTokenInfo, ttl time.Duration) error
	DeleteToken(ctx context.Context, accessToken string) error

	// FindByRefreshToken resolves a token record by its refresh token,
	// regardless of the access token's expiry.
	FindByRefreshToken(ctx context.Context, refreshToken string) (*types.StoredTokenInfo, error)
}

// PKCEStore keeps code-verifier mappings keyed by PKCEKey.
type PKCEStore interface {
	// GetPKCE is a non-mutating read, used as the ownership probe.
	GetPKCE(ctx context.Context, key string) (*types.PKCEData, error)
	PutPKCE(ctx context.Context, key string, data *types.PKCEData, ttl time.Duration) error
	DeletePKCE(ctx context.Context, key string) error

	// GetAndDeletePKCE consumes a mapping atomically. Under concurrent
	// calls for the same key at most one caller observes the value;
	// this is the anti-replay primitive for authorization codes.
	GetAndDeletePKCE(ctx context.Context, key string) (*types.PKCEData, error)
}

// Store combines the three contracts with lifecycle operations.
type Store interface {
	SessionStore
	TokenStore
	PKCEStore

	// Cleanup removes all expired entries. It is invoked on a fixed
	// interval, is safe to call concurrently, and is idempotent.
	Cleanup(ctx context.Context) error

	// Count returns the number of live entries across all three kinds.
	Count(ctx context.Context) (int, error)

	// Close releases timers and connections.
	Close() error
}
