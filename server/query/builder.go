// Package query turns a search term, match mode and target column into a
// parameterized DuckDB query. Terms only ever travel as bound arguments;
// table and column names are quoted identifiers taken from the catalog.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
)

// AllColumns targets every column of the table
const AllColumns = "*"

// RowIDColumn is the alias under which Page returns the keyset cursor
const RowIDColumn = "__gharp_rowid"

// Query is SQL text plus its bound arguments
type Query struct {
	SQL  string
	Args []any
}

// Search describes one filtered lookup against one materialized table
type Search struct {
	Table string
	// Column is a column name or AllColumns
	Column string
	// Columns lists the table's columns; required when Column is AllColumns
	Columns []string
	Term    string
	Mode    Mode
}

// Build is the single-column form: a SELECT over table filtered by the
// predicate for (term, mode, column). limit 0 leaves the result unbounded.
func Build(term string, mode Mode, column, table string, limit int) (Query, error) {
	return Search{Table: table, Column: column, Term: term, Mode: mode}.Select(limit)
}

// Predicate returns the filter for a single column and its argument
func Predicate(term string, mode Mode, column string) (string, []any, error) {
	if err := validate(term, mode); err != nil {
		return "", nil, err
	}
	if column == "" {
		return "", nil, errors.New(ErrMissingColumn, "column is required", nil)
	}
	pred, arg := columnPredicate(term, mode, column)
	return pred, []any{arg}, nil
}

// Where returns the full filter for s. For AllColumns it is a disjunction of
// per-column predicates, one argument each; an empty column list matches
// nothing.
func (s Search) Where() (string, []any, error) {
	if err := validate(s.Term, s.Mode); err != nil {
		return "", nil, err
	}

	if s.Column != AllColumns {
		return Predicate(s.Term, s.Mode, s.Column)
	}

	if len(s.Columns) == 0 {
		return "FALSE", nil, nil
	}

	parts := make([]string, 0, len(s.Columns))
	args := make([]any, 0, len(s.Columns))
	for _, col := range s.Columns {
		pred, arg := columnPredicate(s.Term, s.Mode, col)
		parts = append(parts, pred)
		args = append(args, arg)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}

// Select returns the matching rows, capped at limit when limit > 0
func (s Search) Select(limit int) (Query, error) {
	if limit < 0 {
		return Query{}, errors.New(ErrInvalidLimit, "limit must not be negative", nil)
	}
	from, where, args, err := s.parts()
	if err != nil {
		return Query{}, err
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", from, where)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return Query{SQL: sql, Args: args}, nil
}

// Count returns the number of matching rows
func (s Search) Count() (Query, error) {
	from, where, args, err := s.parts()
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", from, where),
		Args: args,
	}, nil
}

// Page returns up to size matching rows whose rowid is greater than after,
// ordered by rowid. The rowid comes back as the first column, aliased
// RowIDColumn, so the caller can resume from the last row it saw.
func (s Search) Page(after int64, size int) (Query, error) {
	if size <= 0 {
		return Query{}, errors.New(ErrInvalidLimit, "page size must be positive", nil)
	}
	from, where, args, err := s.parts()
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL: fmt.Sprintf("SELECT rowid AS %s, * FROM %s WHERE %s AND rowid > ? ORDER BY rowid LIMIT %d",
			store.QuoteIdent(RowIDColumn), from, where, size),
		Args: append(args, after),
	}, nil
}

func (s Search) parts() (string, string, []any, error) {
	if s.Table == "" {
		return "", "", nil, errors.New(ErrMissingTable, "table is required", nil)
	}
	where, args, err := s.Where()
	if err != nil {
		return "", "", nil, err
	}
	return store.QuoteIdent(s.Table), where, args, nil
}

func validate(term string, mode Mode) error {
	if term == "" {
		return errors.New(ErrEmptyTerm, "search term is required", nil)
	}
	if !mode.Valid() {
		return errors.New(ErrInvalidMode, "unknown match mode", nil).AddContext("mode", string(mode))
	}
	if mode == ModeRegex {
		if _, err := regexp.Compile(term); err != nil {
			return errors.New(ErrInvalidPattern, "invalid regular expression", err).AddContext("pattern", term)
		}
	}
	return nil
}

func columnPredicate(term string, mode Mode, column string) (string, any) {
	col := "CAST(" + store.QuoteIdent(column) + " AS VARCHAR)"
	switch mode {
	case ModeExact:
		return col + " = ?", term
	case ModeStartsWith:
		return col + ` ILIKE ? ESCAPE '\'`, escapeILIKE(term) + "%"
	case ModeEndsWith:
		return col + ` ILIKE ? ESCAPE '\'`, "%" + escapeILIKE(term)
	case ModeRegex:
		return "regexp_matches(" + col + ", ?, 'i')", term
	default:
		return col + ` ILIKE ? ESCAPE '\'`, "%" + escapeILIKE(term) + "%"
	}
}

// escapeILIKE makes ILIKE wildcards in user input match literally
func escapeILIKE(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
