package metadata

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// ColumnIndex maps a column name to the sorted paths of files containing it
type ColumnIndex map[string][]string

// Columns returns the indexed column names in sorted order
func (ci ColumnIndex) Columns() []string {
	out := make([]string, 0, len(ci))
	for c := range ci {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// BuildColumnIndex inverts per-file column lists. Error records are skipped;
// names are compared exactly as extracted.
func BuildColumnIndex(list []FileMetadata) ColumnIndex {
	sets := make(map[string]map[string]struct{})
	for _, md := range list {
		if md.Failed() {
			continue
		}
		for _, col := range md.Columns {
			if sets[col] == nil {
				sets[col] = make(map[string]struct{})
			}
			sets[col][md.FilePath] = struct{}{}
		}
	}

	index := make(ColumnIndex, len(sets))
	for col, files := range sets {
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		index[col] = paths
	}
	return index
}

// Snapshot is a point-in-time view of the catalog
type Snapshot struct {
	Files   []FileMetadata
	Columns ColumnIndex
	TakenAt time.Time
}

const snapshotKey = "catalog"

// Index serves catalog snapshots from a short-lived cache. Catalog writes
// invalidate it immediately; the TTL bounds staleness from other writers.
type Index struct {
	catalog *Catalog
	cache   *ttlcache.Cache[string, *Snapshot]
	logger  zerolog.Logger

	// generation counts invalidations; a rebuild that raced one is not cached
	mu         sync.Mutex
	generation uint64
	loaded     func()

	hits   atomic.Int64
	misses atomic.Int64
}

// NewIndex creates an index over catalog and starts its expiry loop
func NewIndex(catalog *Catalog, ttl time.Duration, logger zerolog.Logger) *Index {
	cache := ttlcache.New[string, *Snapshot](
		ttlcache.WithTTL[string, *Snapshot](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Snapshot](),
	)
	go cache.Start()

	idx := &Index{
		catalog: catalog,
		cache:   cache,
		logger:  logger.With().Str("component", "column_index").Logger(),
	}
	catalog.OnChange(idx.Invalidate)
	return idx
}

// Snapshot returns the cached view, rebuilding it from the catalog on a miss
func (i *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	if item := i.cache.Get(snapshotKey); item != nil {
		i.hits.Add(1)
		return item.Value(), nil
	}
	i.misses.Add(1)

	i.mu.Lock()
	generation := i.generation
	i.mu.Unlock()

	files, err := i.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	if i.loaded != nil {
		i.loaded()
	}
	snap := &Snapshot{
		Files:   files,
		Columns: BuildColumnIndex(files),
		TakenAt: time.Now(),
	}

	i.mu.Lock()
	if i.generation == generation {
		i.cache.Set(snapshotKey, snap, ttlcache.DefaultTTL)
	}
	i.mu.Unlock()

	i.logger.Debug().Int("files", len(files)).Int("columns", len(snap.Columns)).Msg("Column index rebuilt")
	return snap, nil
}

// Columns returns the column index over all materialized files
func (i *Index) Columns(ctx context.Context) (ColumnIndex, error) {
	snap, err := i.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Columns, nil
}

// FilesWithColumn returns the materialized files that contain column
func (i *Index) FilesWithColumn(ctx context.Context, column string) ([]string, error) {
	ci, err := i.Columns(ctx)
	if err != nil {
		return nil, err
	}
	return ci[column], nil
}

// FilesFor returns the search targets for column: every materialized file
// for "*" or an empty column, otherwise the files containing it
func (i *Index) FilesFor(ctx context.Context, column string) ([]string, error) {
	if column != "" && column != "*" {
		return i.FilesWithColumn(ctx, column)
	}
	snap, err := i.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(snap.Files))
	for _, md := range snap.Files {
		paths = append(paths, md.FilePath)
	}
	return paths, nil
}

// Invalidate drops the cached snapshot
func (i *Index) Invalidate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.generation++
	i.cache.Delete(snapshotKey)
}

// Stats returns cache hit and miss counters
func (i *Index) Stats() (hits, misses int64) {
	return i.hits.Load(), i.misses.Load()
}

// Close stops the expiry loop
func (i *Index) Close() {
	i.cache.Stop()
}
