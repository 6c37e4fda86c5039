package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/search"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerWiring(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewMemoryStore(ctx, zerolog.Nop())
	require.NoError(t, err)

	cfg := config.LoadDefaultConfig()
	cfg.Scan.DataDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Scan.DataDir, "people.csv"), []byte("id,name\n1,Alice\n2,Bob\n"), 0644))

	srv, err := NewWithStore(cfg, s, zerolog.Nop())
	require.NoError(t, err)

	outcomes, err := srv.Materializer().ProcessDirectory(ctx, cfg.Scan.DataDir, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Empty(t, outcomes[0].Error)

	files, err := srv.Index().FilesFor(ctx, "name")
	require.NoError(t, err)
	resp, err := srv.Executor().Search(ctx, search.Request{Column: "name", Term: "bob", Files: files})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.TotalResults)

	status := srv.GetStatus()
	assert.Equal(t, false, status["http_started"])
	assert.NotNil(t, srv.Converter())
	assert.NotNil(t, srv.HTTP().App())

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx), "second shutdown is a no-op")

	_, err = s.Exec(ctx, "SELECT 1")
	assert.Error(t, err, "store is closed with the server")
}

func TestNewRejectsBadCompression(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewMemoryStore(ctx, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	cfg := config.LoadDefaultConfig()
	cfg.Export.Compression = "bogus"
	_, err = NewWithStore(cfg, s, zerolog.Nop())
	assert.True(t, errors.HasCode(err, ErrServiceInitFailed))
}
