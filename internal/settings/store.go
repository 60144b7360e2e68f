package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "hostel:settings"

// Store persists the settings document as a single Postgres row and keeps a
// short-lived copy in redis so the hot validation paths avoid a DB roundtrip.
type Store struct {
	db    *sql.DB
	cache *redis.Client
	ttl   time.Duration
}

// NewStore creates a settings store. cache may be nil in tests or when redis
// is unavailable; reads then always hit Postgres.
func NewStore(db *sql.DB, cache *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{db: db, cache: cache, ttl: ttl}
}

// Load returns the current settings, falling back to defaults when no row
// has been saved yet.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var cached Settings
			if jerr := json.Unmarshal([]byte(raw), &cached); jerr == nil {
				return cached, nil
			}
		}
	}

	row := s.db.QueryRowContext(ctx, `SELECT document FROM settings WHERE id = 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Defaults(), nil
		}
		return Settings{}, err
	}
	var cfg Settings
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, err
	}
	s.fillCache(ctx, cfg)
	return cfg, nil
}

// Save replaces the settings document and invalidates the cache.
func (s *Store) Save(ctx context.Context, cfg Settings) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, document, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()
	`, raw)
	if err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, cacheKey).Err()
	}
	return nil
}

// RecordRun stores the summary of a completed sweep without touching the
// operator-editable fields.
func (s *Store) RecordRun(ctx context.Context, run RunInfo) error {
	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	cfg.LastRun = &run
	return s.Save(ctx, cfg)
}

func (s *Store) fillCache(ctx context.Context, cfg Settings) {
	if s.cache == nil {
		return
	}
	if raw, err := json.Marshal(cfg); err == nil {
		_ = s.cache.Set(ctx, cacheKey, raw, s.ttl).Err()
	}
}
