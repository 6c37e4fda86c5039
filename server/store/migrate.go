package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store/migrations"
)

// Migration is one versioned schema step
type Migration interface {
	Version() int
	Name() string
	Description() string
	Up(ctx context.Context, tx *sql.Tx) error
}

// MigrationStatus describes an applied migration
type MigrationStatus struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

func availableMigrations() []Migration {
	return []Migration{
		&migrations.Migration001{},
		&migrations.Migration002{},
	}
}

// Migrate applies every pending migration in a single transaction. Running it
// against an up-to-date database does nothing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       VARCHAR NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`); err != nil {
		return errors.New(ErrStoreMigrationFailed, "failed to create migrations table", err)
	}

	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	var pending []Migration
	for _, m := range availableMigrations() {
		if m.Version() > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		s.logger.Debug().Int("version", current).Msg("Schema up to date")
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(ErrStoreMigrationFailed, "failed to begin migration transaction", err)
	}

	now := time.Now().UTC()
	for _, m := range pending {
		if err := m.Up(ctx, tx); err != nil {
			tx.Rollback()
			return errors.New(ErrStoreMigrationFailed, "migration failed", err).
				AddContext("version", strconv.Itoa(m.Version())).
				AddContext("name", m.Name())
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version(), m.Name(), now); err != nil {
			tx.Rollback()
			return errors.New(ErrStoreMigrationFailed, "failed to record migration", err).
				AddContext("version", strconv.Itoa(m.Version()))
		}
		s.logger.Info().Int("version", m.Version()).Str("name", m.Name()).Msg("Applied migration")
	}

	if err := tx.Commit(); err != nil {
		return errors.New(ErrStoreMigrationFailed, "failed to commit migrations", err)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version, 0 if none
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, errors.New(ErrStoreMigrationFailed, "failed to read schema version", err)
	}
	return int(version.Int64), nil
}

// MigrationStatus lists applied migrations, oldest first
func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	rows, err := s.Query(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MigrationStatus
	for rows.Next() {
		var m MigrationStatus
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, errors.New(ErrStoreScanFailed, "failed to scan migration", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
