// Package cache persists search result summaries keyed by request
// fingerprint. Only counts and timings are kept, never rows.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
)

// ComponentType is the result cache's component name
const ComponentType = "cache"

// Entry is one cached search summary. It is valid while now < ExpiresAt.
type Entry struct {
	Key         string    `json:"key"`
	ResultCount int64     `json:"result_count"`
	DurationMS  float64   `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the entry has not expired at t
func (e *Entry) Valid(t time.Time) bool {
	return t.Before(e.ExpiresAt)
}

// ResultCache stores entries in the search_cache table
type ResultCache struct {
	store  *store.Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a ResultCache
type Option func(*ResultCache)

// WithClock replaces the time source, used for expiry tests
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New creates a cache whose entries live for ttl
func New(s *store.Store, ttl time.Duration, logger zerolog.Logger, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:  s,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", ComponentType).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the default entry lifetime
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the unexpired entry for key, or nil when there is none
func (c *ResultCache) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := c.store.ScanRow(ctx, `
		SELECT cache_key, result_count, execution_time_ms, created_at, expires_at
		FROM search_cache
		WHERE cache_key = ? AND expires_at > ?`,
		[]any{key, c.now().UTC()},
		&e.Key, &e.ResultCount, &e.DurationMS, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.New(ErrCacheRead, "failed to read cache entry", err).AddContext("key", key)
	}
	return &e, nil
}

// Put stores or replaces the summary for key. A zero ttl uses the cache
// default.
func (c *ResultCache) Put(ctx context.Context, key string, count int64, durationMS float64, ttl time.Duration) (*Entry, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now().UTC()
	e := &Entry{
		Key:         key,
		ResultCount: count,
		DurationMS:  durationMS,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	_, err := c.store.Exec(ctx, `
		INSERT OR REPLACE INTO search_cache (cache_key, result_count, execution_time_ms, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Key, e.ResultCount, e.DurationMS, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return nil, errors.New(ErrCacheWrite, "failed to write cache entry", err).AddContext("key", key)
	}

	c.logger.Debug().Str("key", key).Int64("results", count).Time("expires_at", e.ExpiresAt).Msg("Cached search result")
	return e, nil
}

// Sweep deletes expired entries. Reads never need it.
func (c *ResultCache) Sweep(ctx context.Context) (int, error) {
	res, err := c.store.Exec(ctx, `DELETE FROM search_cache WHERE expires_at <= ?`, c.now().UTC())
	if err != nil {
		return 0, errors.New(ErrCacheSweep, "failed to sweep cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.New(ErrCacheSweep, "failed to count swept entries", err)
	}
	if n > 0 {
		c.logger.Info().Int64("removed", n).Msg("Swept expired cache entries")
	}
	return int(n), nil
}
