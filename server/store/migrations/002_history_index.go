package migrations

import (
	"context"
	"database/sql"

	"github.com/gear6io/gharp/pkg/errors"
)

// Migration002 indexes history by user for the recent-searches lookup
type Migration002 struct{}

func (m *Migration002) Version() int {
	return 2
}

func (m *Migration002) Name() string {
	return "history_user_index"
}

func (m *Migration002) Description() string {
	return "Index search_history on user_name"
}

func (m *Migration002) Up(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_search_history_user ON search_history(user_name)`); err != nil {
		return errors.New(MigrationIndexCreationFailed, "failed to create index", err).AddContext("index", "idx_search_history_user")
	}
	return nil
}
