// Package dbstore provides a database-backed store on GORM, supporting
// PostgreSQL and SQLite. Records carry their own expiry columns; the
// relay's cleanup tick deletes what has aged out.
package dbstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/authrelay/authrelay/pkg/store"
	"github.com/authrelay/authrelay/pkg/types"
)

type sessionRow struct {
	State     string    `gorm:"primaryKey"`
	Data      string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (sessionRow) TableName() string { return "oauth_sessions" }

type pkceRow struct {
	CodeKey      string    `gorm:"primaryKey;column:code_key"`
	CodeVerifier string    `gorm:"not null"`
	State        string    `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (pkceRow) TableName() string { return "pkce_mappings" }

type tokenRow struct {
	AccessToken  string    `gorm:"primaryKey"`
	RefreshToken string    `gorm:"index"`
	Data         string    `gorm:"type:text;not null"`
	ExpiresAt    time.Time `gorm:"not null"`
	RecordExpiry time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (tokenRow) TableName() string { return "stored_tokens" }

// Store implements store.Store on a relational database.
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

var _ store.Store = (*Store)(nil)

// New opens the database selected by dsn and migrates the schema. An
// empty dsn uses a local SQLite file under data/; a postgres:// or
// postgresql:// dsn uses PostgreSQL; anything else is a SQLite path.
func New(dsn string) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if dsn == "" {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		gormDB, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "authrelay.db")), gormConfig)
		dbType = "sqlite"
	} else if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	} else {
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := gormDB.AutoMigrate(&sessionRow{}, &pkceRow{}, &tokenRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: gormDB, dbType: dbType}, nil
}

// Type returns the backing database type, for startup logging.
func (s *Store) Type() string { return s.dbType }

func (s *Store) GetSession(ctx context.Context, state string) (*types.OAuthSession, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "state = ? AND expires_at > ?", state, time.Now()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var session types.OAuthSession
	if err := json.Unmarshal([]byte(row.Data), &session); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	return &session, nil
}

func (s *Store) PutSession(ctx context.Context, session *types.OAuthSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	row := &sessionRow{
		State:     session.State,
		Data:      string(data),
		ExpiresAt: time.Now().Add(ttl),
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *Store) DeleteSession(ctx context.Context, state string) error {
	return s.db.WithContext(ctx).Delete(&sessionRow{}, "state = ?", state).Error
}

func (s *Store) GetToken(ctx context.Context, accessToken string) (*types.StoredTokenInfo, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).First(&row, "access_token = ? AND record_expiry > ?", accessToken, time.Now()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	info, err := decodeToken(&row)
	if err != nil {
		return nil, err
	}
	if store.TokenExpired(info.ExpiresAt) {
		if info.RefreshToken == "" {
			_ = s.db.WithContext(ctx).Delete(&tokenRow{}, "access_token = ?", accessToken).Error
		}
		return nil, store.ErrNotFound
	}
	return info, nil
}

func (s *Store) PutToken(ctx context.Context, info *types.StoredTokenInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	row := &tokenRow{
		AccessToken:  info.AccessToken,
		RefreshToken: info.RefreshToken,
		Data:         string(data),
		ExpiresAt:    info.ExpiresAt,
		RecordExpiry: time.Now().Add(ttl),
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *Store) DeleteToken(ctx context.Context, accessToken string) error {
	return s.db.WithContext(ctx).Delete(&tokenRow{}, "access_token = ?", accessToken).Error
}

func (s *Store) FindByRefreshToken(ctx context.Context, refreshToken string) (*types.StoredTokenInfo, error) {
	if refreshToken == "" {
		return nil, store.ErrNotFound
	}
	var row tokenRow
	err := s.db.WithContext(ctx).First(&row, "refresh_token = ? AND record_expiry > ?", refreshToken, time.Now()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return decodeToken(&row)
}

func (s *Store) GetPKCE(ctx context.Context, key string) (*types.PKCEData, error) {
	var row pkceRow
	err := s.db.WithContext(ctx).First(&row, "code_key = ? AND expires_at > ?", key, time.Now()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &types.PKCEData{CodeVerifier: row.CodeVerifier, State: row.State}, nil
}

func (s *Store) PutPKCE(ctx context.Context, key string, data *types.PKCEData, ttl time.Duration) error {
	row := &pkceRow{
		CodeKey:      key,
		CodeVerifier: data.CodeVerifier,
		State:        data.State,
		ExpiresAt:    time.Now().Add(ttl),
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *Store) DeletePKCE(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&pkceRow{}, "code_key = ?", key).Error
}

// GetAndDeletePKCE reads and removes a mapping in one transaction. The
// DELETE's affected-row count is the arbiter: when two callers race,
// only the one whose delete removed the row gets the value.
func (s *Store) GetAndDeletePKCE(ctx context.Context, key string) (*types.PKCEData, error) {
	var row pkceRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "code_key = ? AND expires_at > ?", key, time.Now()).Error; err != nil {
			return err
		}
		res := tx.Delete(&pkceRow{}, "code_key = ?", key)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &types.PKCEData{CodeVerifier: row.CodeVerifier, State: row.State}, nil
}

func (s *Store) Cleanup(ctx context.Context) error {
	now := time.Now()
	db := s.db.WithContext(ctx)

	if err := db.Where("expires_at < ?", now).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	if err := db.Where("expires_at < ?", now).Delete(&pkceRow{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup expired PKCE mappings: %w", err)
	}
	if err := db.Where("record_expiry < ?", now).Delete(&tokenRow{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var total int64
	db := s.db.WithContext(ctx)
	for _, model := range []any{&sessionRow{}, &pkceRow{}, &tokenRow{}} {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			return 0, err
		}
		total += n
	}
	return int(total), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeToken(row *tokenRow) (*types.StoredTokenInfo, error) {
	var info types.StoredTokenInfo
	if err := json.Unmarshal([]byte(row.Data), &info); err != nil {
		return nil, fmt.Errorf("corrupt token record: %w", err)
	}
	return &info, nil
}
