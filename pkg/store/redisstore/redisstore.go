// Package redisstore provides a Redis-backed store for multi-instance
// deployments. TTL expiry is native to Redis, so Cleanup has nothing to
// purge; atomic PKCE consumption uses GETDEL.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authrelay/authrelay/pkg/store"
	"github.com/authrelay/authrelay/pkg/types"
)

const (
	sessionPrefix = "authrelay:session:"
	tokenPrefix   = "authrelay:token:"
	refreshPrefix = "authrelay:refresh:"
	pkcePrefix    = "authrelay:pkce:"
)

// Store implements store.Store on a Redis client.
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

// New connects to the Redis instance described by a redis:// URL.
func New(dsn string) (*Store, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid redis DSN: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	} else if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, ttl).Err()
}

func (s *Store) GetSession(ctx context.Context, state string) (*types.OAuthSession, error) {
	var session types.OAuthSession
	if err := s.getJSON(ctx, sessionPrefix+state, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) PutSession(ctx context.Context, session *types.OAuthSession, ttl time.Duration) error {
	return s.setJSON(ctx, sessionPrefix+session.State, session, ttl)
}

func (s *Store) DeleteSession(ctx context.Context, state string) error {
	return s.client.Del(ctx, sessionPrefix+state).Err()
}

func (s *Store) GetToken(ctx context.Context, accessToken string) (*types.StoredTokenInfo, error) {
	var info types.StoredTokenInfo
	if err := s.getJSON(ctx, tokenPrefix+accessToken, &info); err != nil {
		return nil, err
	}
	if store.TokenExpired(info.ExpiresAt) {
		if info.RefreshToken == "" {
			_ = s.client.Del(ctx, tokenPrefix+accessToken).Err()
		}
		return nil, store.ErrNotFound
	}
	return &info, nil
}

func (s *Store) PutToken(ctx context.Context, info *types.StoredTokenInfo, ttl time.Duration) error {
	if err := s.setJSON(ctx, tokenPrefix+info.AccessToken, info, ttl); err != nil {
		return err
	}
	if info.RefreshToken != "" {
		return s.client.Set(ctx, refreshPrefix+info.RefreshToken, info.AccessToken, ttl).Err()
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, accessToken string) error {
	var info types.StoredTokenInfo
	if err := s.getJSON(ctx, tokenPrefix+accessToken, &info); err == nil && info.RefreshToken != "" {
		// Rotation re-points the reverse index at a new record before the
		// old one is deleted; only drop the entry if it still belongs to
		// this access token.
		if cur, err := s.client.Get(ctx, refreshPrefix+info.RefreshToken).Result(); err == nil && cur == accessToken {
			_ = s.client.Del(ctx, refreshPrefix+info.RefreshToken).Err()
		}
	}
	return s.client.Del(ctx, tokenPrefix+accessToken).Err()
}

func (s *Store) FindByRefreshToken(ctx context.Context, refreshToken string) (*types.StoredTokenInfo, error) {
	accessToken, err := s.client.Get(ctx, refreshPrefix+refreshToken).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var info types.StoredTokenInfo
	if err := s.getJSON(ctx, tokenPrefix+accessToken, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Store) GetPKCE(ctx context.Context, key string) (*types.PKCEData, error) {
	var data types.PKCEData
	if err := s.getJSON(ctx, pkcePrefix+key, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (s *Store) PutPKCE(ctx context.Context, key string, data *types.PKCEData, ttl time.Duration) error {
	return s.setJSON(ctx, pkcePrefix+key, data, ttl)
}

func (s *Store) DeletePKCE(ctx context.Context, key string) error {
	return s.client.Del(ctx, pkcePrefix+key).Err()
}

// GetAndDeletePKCE consumes the mapping with GETDEL, which is atomic on
// the Redis side even across relay instances.
func (s *Store) GetAndDeletePKCE(ctx context.Context, key string) (*types.PKCEData, error) {
	b, err := s.client.GetDel(ctx, pkcePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var data types.PKCEData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Cleanup is a no-op; Redis evicts expired keys itself.
func (s *Store) Cleanup(context.Context) error { return nil }

func (s *Store) Count(ctx context.Context) (int, error) {
	total := 0
	for _, prefix := range []string{sessionPrefix, tokenPrefix, pkcePrefix} {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 500).Result()
			if err != nil {
				return 0, err
			}
			total += len(keys)
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return total, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
