package migrations

import (
	"context"
	"database/sql"

	"github.com/gear6io/gharp/pkg/errors"
)

// Package-specific error codes for migrations
var (
	MigrationTableCreationFailed = errors.MustNewCode("migrations.table_creation_failed")
	MigrationIndexCreationFailed = errors.MustNewCode("migrations.index_creation_failed")
)

// Migration001 creates the metadata catalog, result cache and history tables
type Migration001 struct{}

func (m *Migration001) Version() int {
	return 1
}

func (m *Migration001) Name() string {
	return "initial_schema"
}

func (m *Migration001) Description() string {
	return "File metadata catalog, search result cache and search history"
}

// Up runs the migration. List-valued metadata is stored as JSON text.
func (m *Migration001) Up(ctx context.Context, tx *sql.Tx) error {
	tables := map[string]string{
		"file_metadata": `
			CREATE TABLE IF NOT EXISTS file_metadata (
				file_path       VARCHAR PRIMARY KEY,
				file_name       VARCHAR NOT NULL,
				file_format     VARCHAR NOT NULL,
				file_size_mb    DOUBLE NOT NULL,
				row_count       BIGINT NOT NULL,
				column_names    VARCHAR NOT NULL,
				column_types    VARCHAR NOT NULL,
				indexed_columns VARCHAR NOT NULL,
				table_name      VARCHAR NOT NULL,
				last_modified   TIMESTAMP NOT NULL,
				created_at      TIMESTAMP NOT NULL,
				updated_at      TIMESTAMP NOT NULL
			)`,
		"search_cache": `
			CREATE TABLE IF NOT EXISTS search_cache (
				cache_key         VARCHAR PRIMARY KEY,
				result_count      BIGINT NOT NULL,
				execution_time_ms DOUBLE NOT NULL,
				created_at        TIMESTAMP NOT NULL,
				expires_at        TIMESTAMP NOT NULL
			)`,
		"search_history": `
			CREATE TABLE IF NOT EXISTS search_history (
				id                VARCHAR PRIMARY KEY,
				user_name         VARCHAR NOT NULL,
				search_term       VARCHAR NOT NULL,
				column_name       VARCHAR NOT NULL,
				search_type       VARCHAR NOT NULL,
				files_searched    INTEGER NOT NULL,
				results_found     BIGINT NOT NULL,
				execution_time_ms DOUBLE NOT NULL,
				created_at        TIMESTAMP NOT NULL
			)`,
	}

	for _, name := range []string{"file_metadata", "search_cache", "search_history"} {
		if _, err := tx.ExecContext(ctx, tables[name]); err != nil {
			return errors.New(MigrationTableCreationFailed, "failed to create table", err).AddContext("table", name)
		}
	}

	return nil
}
