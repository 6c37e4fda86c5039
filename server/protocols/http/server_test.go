package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gear6io/gharp/server/cache"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/history"
	"github.com/gear6io/gharp/server/materializer"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/search"
	"github.com/gear6io/gharp/server/store"
	"github.com/gear6io/gharp/server/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewMemoryStore(ctx, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pool := workers.NewPool(2, zerolog.Nop())
	require.NoError(t, pool.Start())
	t.Cleanup(func() { pool.Stop() })

	cfg := config.LoadDefaultConfig()
	cfg.Scan.DataDir = t.TempDir()

	catalog := metadata.NewCatalog(s, zerolog.Nop())
	index := metadata.NewIndex(catalog, time.Minute, zerolog.Nop())
	t.Cleanup(index.Close)
	scanner := metadata.NewScanner(s, cfg, zerolog.Nop())
	c := cache.New(s, time.Hour, zerolog.Nop())
	h := history.New(s, zerolog.Nop())

	srv := NewServer(cfg, Services{
		Scanner:      scanner,
		Catalog:      catalog,
		Index:        index,
		Materializer: materializer.New(s, catalog, scanner, pool, cfg, zerolog.Nop()),
		Executor:     search.NewExecutor(s, catalog, c, h, pool, cfg.Search, zerolog.Nop()),
		Cache:        c,
		History:      h,
	}, zerolog.Nop())

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Scan.DataDir, "a.csv"), []byte("id,name\n1,Alice\n2,Bob\n3,Carol\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Scan.DataDir, "b.csv"), []byte("id,name\n1,Dan\n2,Eve\n"), 0644))
	return srv, cfg.Scan.DataDir
}

func do(t *testing.T, srv *Server, method, target, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, data := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode(t, data)["status"])
}

func TestSearchFlow(t *testing.T) {
	srv, dir := newTestServer(t)
	user := map[string]string{"X-User": "ana"}

	resp, data := do(t, srv, http.MethodPost, "/api/process", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Len(t, decode(t, data)["outcomes"], 2)

	resp, data = do(t, srv, http.MethodGet, "/api/columns", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	columns := decode(t, data)["columns"].([]any)
	require.Len(t, columns, 2)
	assert.Equal(t, "id", columns[0].(map[string]any)["name"])

	resp, data = do(t, srv, http.MethodPost, "/api/search", `{"column":"name","term":"alice"}`, user)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	result := decode(t, data)
	assert.Equal(t, float64(1), result["total_results"])
	assert.Equal(t, float64(2), result["total_files"])
	assert.Equal(t, false, result["cached"])

	resp, data = do(t, srv, http.MethodPost, "/api/search", `{"column":"name","term":"alice"}`, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, data)["cached"])

	runID := result["run_id"].(string)
	resp, data = do(t, srv, http.MethodGet, "/api/runs/"+runID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decode(t, data)["status"])
	resp, _ = do(t, srv, http.MethodDelete, "/api/runs/"+runID, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/api/runs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, data = do(t, srv, http.MethodGet, "/api/runs?running=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode(t, data)["runs"])

	resp, data = do(t, srv, http.MethodGet, "/api/history", "", user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decode(t, data)
	assert.Equal(t, "ana", hist["user"])
	assert.Len(t, hist["history"], 2)

	resp, data = do(t, srv, http.MethodGet, "/api/popular", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	popular := decode(t, data)["popular"].([]any)
	require.Len(t, popular, 1)
	assert.Equal(t, float64(2), popular[0].(map[string]any)["search_count"])

	resp, data = do(t, srv, http.MethodPost, "/api/export?format=csv", `{"column":"name","term":"a","mode":"contains"}`, user)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "search_results_")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "source_file,id,name", lines[0])
	assert.ElementsMatch(t, []string{"a.csv,1,Alice", "a.csv,3,Carol", "b.csv,1,Dan"}, lines[1:])

	resp, data = do(t, srv, http.MethodGet, "/api/overview", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode(t, data)["total_files"])

	resp, _ = do(t, srv, http.MethodDelete, "/api/files?path="+filepath.Join(dir, "b.csv"), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, data = do(t, srv, http.MethodGet, "/api/files", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode(t, data)["files"], 1)
}

func TestSearchErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/process", "", nil)

	resp, data := do(t, srv, http.MethodPost, "/api/search", `{"column":"name","term":"x","mode":"fuzzy"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "search.invalid_request", decode(t, data)["code"])

	resp, _ = do(t, srv, http.MethodPost, "/api/search", `{"column":"nope","term":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no file has the column")

	resp, _ = do(t, srv, http.MethodPost, "/api/search", `{"term":"x","files":["/nowhere/z.csv"]}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/export?format=xlsx", `{"term":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func upload(t *testing.T, srv *Server, target, name, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestUploadAndCleanup(t *testing.T) {
	srv, dir := newTestServer(t)

	resp := upload(t, srv, "/api/upload", "upload.csv", "id,city\n1,Oslo\n")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.FileExists(t, filepath.Join(dir, "upload.csv"))

	require.NoError(t, os.Remove(filepath.Join(dir, "upload.csv")))
	resp2, data := do(t, srv, http.MethodPost, "/api/cleanup", "", nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, float64(1), decode(t, data)["removed_tables"])
}

func TestUploadOverExistingFile(t *testing.T) {
	srv, dir := newTestServer(t)
	path := filepath.Join(dir, "a.csv")
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	resp := upload(t, srv, "/api/upload", "a.csv", "id,name\n9,Zed\n")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = upload(t, srv, "/api/upload?overwrite=true", "a.csv", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data)

	resp = upload(t, srv, "/api/upload?overwrite=true", "a.csv", "id,name\n9,Zed\n")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n9,Zed\n", string(data))
}

func TestExportSameNamedFiles(t *testing.T) {
	srv, dir := newTestServer(t)
	x := filepath.Join(dir, "x", "data.csv")
	y := filepath.Join(dir, "y", "data.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(x), 0755))
	require.NoError(t, os.MkdirAll(filepath.Dir(y), 0755))
	require.NoError(t, os.WriteFile(x, []byte("id,name\n1,Alice-X\n"), 0644))
	require.NoError(t, os.WriteFile(y, []byte("id,name\n2,Alice-Y\n"), 0644))

	files, err := json.Marshal(map[string]any{"files": []string{x, y}})
	require.NoError(t, err)
	resp, _ := do(t, srv, http.MethodPost, "/api/process", string(files), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := json.Marshal(map[string]any{"column": "name", "term": "alice", "files": []string{x, y}})
	require.NoError(t, err)
	resp, data := do(t, srv, http.MethodPost, "/api/export?format=json", string(body), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records), string(data))
	require.Len(t, records, 2)
	assert.Equal(t, x, records[0]["source_file"])
	assert.Equal(t, "Alice-X", records[0]["name"])
	assert.Equal(t, y, records[1]["source_file"])
	assert.Equal(t, "Alice-Y", records[1]["name"])
}

func TestSearchAcceptsModeLabels(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/process", "", nil)

	resp, data := do(t, srv, http.MethodPost, "/api/search", `{"column":"name","term":"Alice","mode":"Exact match"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, float64(1), decode(t, data)["total_results"])

	resp, data = do(t, srv, http.MethodPost, "/api/search", `{"column":"name","term":"ca","mode":"Starts with"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, float64(1), decode(t, data)["total_results"])
}
