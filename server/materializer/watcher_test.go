package materializer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFollowsDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	w, err := NewWatcher(f.m, f.dir, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Shutdown(ctx)

	rowCount := func(path string) int64 {
		md, err := f.catalog.Get(ctx, path)
		if err != nil || md == nil {
			return -1
		}
		return md.RowCount
	}

	path := f.write(t, "live.csv", "id,name\n1,Alice\n")
	require.Eventually(t, func() bool { return rowCount(path) == 1 }, 5*time.Second, 20*time.Millisecond)

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,Alice\n2,Bob\n"), 0644))
	require.NoError(t, os.Chtimes(path, future, future))
	require.Eventually(t, func() bool { return rowCount(path) == 2 }, 5*time.Second, 20*time.Millisecond)

	f.write(t, "notes.txt", "ignored")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return rowCount(path) == -1 }, 5*time.Second, 20*time.Millisecond)

	exists, err := f.store.TableExists(ctx, TableName(path))
	require.NoError(t, err)
	assert.False(t, exists)

	list, err := f.catalog.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWatcherShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t)
	w, err := NewWatcher(f.m, f.dir, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounce)
	require.NoError(t, w.Start(context.Background()))

	f.write(t, "pending.csv", "id\n1\n")
	require.NoError(t, w.Shutdown(context.Background()))
	require.NoError(t, w.Shutdown(context.Background()))
}
