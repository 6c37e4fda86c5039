// Package history records executed searches per user and reports the most
// frequent ones.
package history

import (
	"context"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
	"github.com/gear6io/gharp/utils"
	"github.com/rs/zerolog"
)

// ComponentType is the history store's component name
const ComponentType = "history"

// Entry is one executed search
type Entry struct {
	ID            string    `json:"id"`
	User          string    `json:"user"`
	Term          string    `json:"term"`
	Column        string    `json:"column"`
	Mode          string    `json:"mode"`
	FilesSearched int       `json:"files_searched"`
	ResultCount   int64     `json:"result_count"`
	DurationMS    float64   `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Popular aggregates the searches sharing a term and column
type Popular struct {
	Term          string  `json:"term"`
	Column        string  `json:"column"`
	SearchCount   int64   `json:"search_count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	TotalResults  int64   `json:"total_results"`
}

// Store is the append-only search log
type Store struct {
	store  *store.Store
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a history store
func New(s *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		store:  s,
		now:    time.Now,
		logger: logger.With().Str("component", ComponentType).Logger(),
	}
}

// Append records e. ID and CreatedAt are filled in when empty.
func (h *Store) Append(ctx context.Context, e *Entry) error {
	if e.User == "" {
		return errors.New(ErrInvalidEntry, "history entry has no user", nil)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.ID == "" {
		e.ID = utils.GenerateULIDWithTime(e.CreatedAt).String()
	}

	_, err := h.store.Exec(ctx, `
		INSERT INTO search_history
			(id, user_name, search_term, column_name, search_type, files_searched, results_found, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.User, e.Term, e.Column, e.Mode, e.FilesSearched, e.ResultCount, e.DurationMS, e.CreatedAt)
	if err != nil {
		return errors.New(ErrHistoryAppend, "failed to append search history", err).AddContext("user", e.User)
	}
	return nil
}

// Recent returns the user's latest searches, newest first
func (h *Store) Recent(ctx context.Context, user string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := h.store.Query(ctx, `
		SELECT id, user_name, search_term, column_name, search_type, files_searched, results_found, execution_time_ms, created_at
		FROM search_history
		WHERE user_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, user, limit)
	if err != nil {
		return nil, errors.New(ErrHistoryRead, "failed to read search history", err).AddContext("user", user)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.User, &e.Term, &e.Column, &e.Mode, &e.FilesSearched,
			&e.ResultCount, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, errors.New(ErrHistoryRead, "failed to scan search history", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrHistoryRead, "failed to iterate search history", err)
	}
	return entries, nil
}

// Popular returns the most frequent (term, column) pairs searched within
// window, most frequent first
func (h *Store) Popular(ctx context.Context, window time.Duration, limit int) ([]Popular, error) {
	if limit <= 0 {
		limit = 5
	}
	since := h.now().UTC().Add(-window)

	rows, err := h.store.Query(ctx, `
		SELECT search_term, column_name, COUNT(*) AS search_count,
			AVG(execution_time_ms) AS avg_time_ms,
			CAST(SUM(results_found) AS BIGINT) AS total_results
		FROM search_history
		WHERE created_at >= ?
		GROUP BY search_term, column_name
		ORDER BY search_count DESC, search_term, column_name
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, errors.New(ErrHistoryRead, "failed to read popular searches", err)
	}
	defer rows.Close()

	out := []Popular{}
	for rows.Next() {
		var p Popular
		if err := rows.Scan(&p.Term, &p.Column, &p.SearchCount, &p.AvgDurationMS, &p.TotalResults); err != nil {
			return nil, errors.New(ErrHistoryRead, "failed to scan popular searches", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrHistoryRead, "failed to iterate popular searches", err)
	}
	return out, nil
}
