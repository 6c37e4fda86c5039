package history

import (
	"context"
	"testing"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *Store {
	t.Helper()
	s, err := store.NewMemoryStore(context.Background(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, zerolog.Nop())
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, term := range []string{"alice", "bob", "carol"} {
		require.NoError(t, h.Append(ctx, &Entry{
			User:          "ana",
			Term:          term,
			Column:        "name",
			Mode:          "contains",
			FilesSearched: 2,
			ResultCount:   int64(i),
			DurationMS:    10,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, h.Append(ctx, &Entry{User: "ben", Term: "x", Column: "*", Mode: "exact", CreatedAt: base}))

	recent, err := h.Recent(ctx, "ana", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "carol", recent[0].Term)
	assert.Equal(t, "bob", recent[1].Term)
	assert.NotEmpty(t, recent[0].ID)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	none, err := h.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	err = h.Append(ctx, &Entry{Term: "anonymous"})
	assert.True(t, errors.HasCode(err, ErrInvalidEntry))
}

func TestPopular(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	add := func(term, column string, results int64, ms float64, age time.Duration) {
		require.NoError(t, h.Append(ctx, &Entry{
			User: "ana", Term: term, Column: column, Mode: "contains",
			ResultCount: results, DurationMS: ms, CreatedAt: now.Add(-age),
		}))
	}
	add("alice", "name", 3, 10, time.Hour)
	add("alice", "name", 5, 30, 2*time.Hour)
	add("alice", "email", 1, 5, time.Hour)
	add("bob", "name", 2, 8, time.Hour)
	add("bob", "name", 2, 8, 3*time.Hour)
	add("bob", "name", 2, 8, 30*24*time.Hour)

	popular, err := h.Popular(ctx, 7*24*time.Hour, 5)
	require.NoError(t, err)
	require.Len(t, popular, 3)

	assert.Equal(t, Popular{Term: "alice", Column: "name", SearchCount: 2, AvgDurationMS: 20, TotalResults: 8}, popular[0])
	assert.Equal(t, Popular{Term: "bob", Column: "name", SearchCount: 2, AvgDurationMS: 8, TotalResults: 4}, popular[1])
	assert.Equal(t, "email", popular[2].Column)

	top, err := h.Popular(ctx, 7*24*time.Hour, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}
