package cache

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(t *testing.T) (*ResultCache, *clock) {
	t.Helper()
	s, err := store.NewMemoryStore(context.Background(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(s, time.Hour, zerolog.Nop(), WithClock(clk.now)), clk
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t)

	got, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	put, err := c.Put(ctx, "k1", 42, 12.5, 0)
	require.NoError(t, err)
	assert.Equal(t, clk.t.Add(time.Hour), put.ExpiresAt)

	got, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ResultCount)
	assert.Equal(t, 12.5, got.DurationMS)
	assert.True(t, got.ExpiresAt.Equal(put.ExpiresAt))
	assert.True(t, got.Valid(clk.t))

	// Replace keeps a single row per key
	_, err = c.Put(ctx, "k1", 7, 1, 0)
	require.NoError(t, err)
	got, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ResultCount)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t)

	_, err := c.Put(ctx, "short", 1, 1, time.Minute)
	require.NoError(t, err)
	_, err = c.Put(ctx, "long", 2, 1, 0)
	require.NoError(t, err)

	clk.t = clk.t.Add(59 * time.Second)
	got, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clk.t = clk.t.Add(time.Second)
	got, err = c.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, got, "entry must expire exactly at ExpiresAt")

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = c.Get(ctx, "long")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestWriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewStoreFromDB(db, store.RetryConfig{MaxAttempts: 1}, zerolog.Nop())
	c := New(s, time.Hour, zerolog.Nop())

	mock.ExpectExec("INSERT OR REPLACE INTO search_cache").WillReturnError(stderrors.New("read-only database"))

	_, err = c.Put(context.Background(), "k", 1, 1, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrCacheWrite))
	assert.NoError(t, mock.ExpectationsWereMet())
}
