// Package memory provides an in-memory store backend suitable for
// development, tests, and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/authrelay/authrelay/pkg/store"
	"github.com/authrelay/authrelay/pkg/types"
)

// Store implements store.Store on top of go-cache instances, one per
// entry kind plus a reverse index from refresh token to access token.
type Store struct {
	sessions *gocache.Cache
	tokens   *gocache.Cache
	refresh  *gocache.Cache
	pkce     *gocache.Cache

	// pkceMu serializes GetAndDeletePKCE; go-cache has no combined
	// read-and-remove operation.
	pkceMu sync.Mutex

	// tokenMu guards the token/refresh pair so the reverse index never
	// outlives its record mid-update.
	tokenMu sync.Mutex
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	// go-cache's own janitor is disabled (cleanup interval -1); the
	// relay drives purging through Cleanup on its shared schedule.
	return &Store{
		sessions: gocache.New(store.SessionTTL, -1),
		tokens:   gocache.New(store.AccessTokenTTL, -1),
		refresh:  gocache.New(store.RefreshTokenTTL, -1),
		pkce:     gocache.New(store.PKCETTL, -1),
	}
}

func (s *Store) GetSession(_ context.Context, state string) (*types.OAuthSession, error) {
	v, ok := s.sessions.Get(state)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*types.OAuthSession), nil
}

func (s *Store) PutSession(_ context.Context, session *types.OAuthSession, ttl time.Duration) error {
	s.sessions.Set(session.State, session, ttl)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, state string) error {
	s.sessions.Delete(state)
	return nil
}

func (s *Store) GetToken(_ context.Context, accessToken string) (*types.StoredTokenInfo, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	v, ok := s.tokens.Get(accessToken)
	if !ok {
		return nil, store.ErrNotFound
	}
	info := v.(*types.StoredTokenInfo)
	if store.TokenExpired(info.ExpiresAt) {
		// Lazy eviction, unless a refresh token still needs the record.
		if info.RefreshToken == "" {
			s.tokens.Delete(accessToken)
		}
		return nil, store.ErrNotFound
	}
	return info, nil
}

func (s *Store) PutToken(_ context.Context, info *types.StoredTokenInfo, ttl time.Duration) error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	s.tokens.Set(info.AccessToken, info, ttl)
	if info.RefreshToken != "" {
		s.refresh.Set(info.RefreshToken, info.AccessToken, ttl)
	}
	return nil
}

func (s *Store) DeleteToken(_ context.Context, accessToken string) error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if v, ok := s.tokens.Get(accessToken); ok {
		if info := v.(*types.StoredTokenInfo); info.RefreshToken != "" {
			// Rotation re-points the reverse index at a new record before
			// the old one is deleted; only drop the entry if it still
			// belongs to this access token.
			if cur, ok := s.refresh.Get(info.RefreshToken); ok && cur.(string) == accessToken {
				s.refresh.Delete(info.RefreshToken)
			}
		}
	}
	s.tokens.Delete(accessToken)
	return nil
}

func (s *Store) FindByRefreshToken(_ context.Context, refreshToken string) (*types.StoredTokenInfo, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	v, ok := s.refresh.Get(refreshToken)
	if !ok {
		return nil, store.ErrNotFound
	}
	rec, ok := s.tokens.Get(v.(string))
	if !ok {
		s.refresh.Delete(refreshToken)
		return nil, store.ErrNotFound
	}
	return rec.(*types.StoredTokenInfo), nil
}

func (s *Store) GetPKCE(_ context.Context, key string) (*types.PKCEData, error) {
	v, ok := s.pkce.Get(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*types.PKCEData), nil
}

func (s *Store) PutPKCE(_ context.Context, key string, data *types.PKCEData, ttl time.Duration) error {
	s.pkce.Set(key, data, ttl)
	return nil
}

func (s *Store) DeletePKCE(_ context.Context, key string) error {
	s.pkce.Delete(key)
	return nil
}

func (s *Store) GetAndDeletePKCE(_ context.Context, key string) (*types.PKCEData, error) {
	s.pkceMu.Lock()
	defer s.pkceMu.Unlock()

	v, ok := s.pkce.Get(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	s.pkce.Delete(key)
	return v.(*types.PKCEData), nil
}

func (s *Store) Cleanup(_ context.Context) error {
	s.sessions.DeleteExpired()
	s.pkce.DeleteExpired()
	s.refresh.DeleteExpired()

	s.tokenMu.Lock()
	s.tokens.DeleteExpired()
	s.tokenMu.Unlock()
	return nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	return s.sessions.ItemCount() + s.tokens.ItemCount() + s.pkce.ItemCount(), nil
}

func (s *Store) Close() error {
	s.sessions.Flush()
	s.tokens.Flush()
	s.refresh.Flush()
	s.pkce.Flush()
	return nil
}
