package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

type workspace struct {
	dir    string
	config string
	data   string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:    dir,
		config: filepath.Join(dir, "gharp.yml"),
		data:   filepath.Join(dir, "data"),
	}
	require.NoError(t, os.Mkdir(ws.data, 0755))
	cfg := "log:\n  file_path: \"\"\n  console: false\n" +
		"database:\n  path: " + filepath.Join(dir, "gharp.duckdb") + "\n  temp_directory: \"\"\n" +
		"scan:\n  data_dir: " + ws.data + "\n"
	require.NoError(t, os.WriteFile(ws.config, []byte(cfg), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.data, "people.csv"), []byte("id,name,email\n1,Alice,alice@example.com\n2,Bob,bob@example.com\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.data, "staff.csv"), []byte("id,name\n7,Alicia\n8,Zed\n"), 0644))
	return ws
}

func (ws workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	ctx := WithDisplay(context.Background(), NewDisplay(&out))
	rootCmd.SetArgs(append([]string{"--config", ws.config}, args...))
	err := ExecuteWithContext(ctx)
	return out.String(), err
}

func TestProcessAndSearch(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "scan", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "people.csv")
	assert.Contains(t, out, "2 files")

	out, err = ws.run(t, "process", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "2 processed, 0 current")

	out, err = ws.run(t, "process", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "0 processed, 2 current")

	out, err = ws.run(t, "search", "ali", "--column", "name", "--user", "tester", "--format", "json")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, float64(2), resp["total_results"])
	assert.Equal(t, float64(2), resp["files_with_matches"])

	out, err = ws.run(t, "search", "ali", "--column", "email", "--user", "tester", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "1 matches in 1 of 1 files")

	out, err = ws.run(t, "history", "--user", "tester", "--format", "json")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries), out)
	require.Len(t, entries, 2)
	assert.Equal(t, "email", entries[0]["column"])

	out, err = ws.run(t, "popular", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "ali")

	out, err = ws.run(t, "columns")
	require.NoError(t, err)
	assert.Contains(t, out, "email")
}

func TestSearchRejectsBadMode(t *testing.T) {
	ws := newWorkspace(t)
	_, err := ws.run(t, "search", "x", "--mode", "fuzzy", "--format", "json")
	assert.Error(t, err)
	// reset for later tests sharing the flag set
	searchOpts.mode = "contains"
}

func TestExportAndConvert(t *testing.T) {
	ws := newWorkspace(t)
	_, err := ws.run(t, "process")
	require.NoError(t, err)

	output := filepath.Join(ws.dir, "out.csv")
	out, err := ws.run(t, "export", "ali", "--column", "name", "--format", "csv", "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 rows")
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "source_file,id,name,email")

	parquetDir := filepath.Join(ws.dir, "parquet")
	out, err = ws.run(t, "convert", ws.data, parquetDir, "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "2 converted")
	assert.FileExists(t, filepath.Join(parquetDir, "people.parquet"))

	require.NoError(t, os.Remove(filepath.Join(ws.data, "staff.csv")))
	out, err = ws.run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Dropped 1 orphaned tables")
}
