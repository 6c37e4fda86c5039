package query

import (
	"context"
	"strings"
	"testing"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":            ModeContains,
		"contains":    ModeContains,
		"Contains":    ModeContains,
		"exact":       ModeExact,
		"Exact match": ModeExact,
		"Starts with": ModeStartsWith,
		"starts_with": ModeStartsWith,
		"ends_with":   ModeEndsWith,
		" Ends with ": ModeEndsWith,
		"Regex":       ModeRegex,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("fuzzy")
	assert.True(t, errors.HasCode(err, ErrInvalidMode))
}

func TestBuildModes(t *testing.T) {
	tests := []struct {
		mode Mode
		pred string
		arg  string
	}{
		{ModeContains, `CAST("name" AS VARCHAR) ILIKE ? ESCAPE '\'`, "%ali%"},
		{ModeExact, `CAST("name" AS VARCHAR) = ?`, "ali"},
		{ModeStartsWith, `CAST("name" AS VARCHAR) ILIKE ? ESCAPE '\'`, "ali%"},
		{ModeEndsWith, `CAST("name" AS VARCHAR) ILIKE ? ESCAPE '\'`, "%ali"},
		{ModeRegex, `regexp_matches(CAST("name" AS VARCHAR), ?, 'i')`, "ali"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			pred, args, err := Predicate("ali", tt.mode, "name")
			require.NoError(t, err)
			assert.Equal(t, tt.pred, pred)
			assert.Equal(t, []any{tt.arg}, args)

			q, err := Build("ali", tt.mode, "name", "csv_people_0a1b2c3d", 10)
			require.NoError(t, err)
			assert.Equal(t, `SELECT * FROM "csv_people_0a1b2c3d" WHERE `+tt.pred+` LIMIT 10`, q.SQL)
			assert.Equal(t, []any{tt.arg}, q.Args)
		})
	}
}

func TestTermNeverEmbedded(t *testing.T) {
	terms := []string{
		"alice",
		"'; DROP TABLE file_metadata; --",
		`x" OR 1=1 --`,
		"50%_off",
		`back\slash`,
		"ünïcödé",
	}

	for _, term := range terms {
		for _, mode := range []Mode{ModeContains, ModeExact, ModeStartsWith, ModeEndsWith} {
			s := Search{Table: "t", Column: AllColumns, Columns: []string{"a", "b"}, Term: term, Mode: mode}
			for _, build := range []func() (Query, error){
				func() (Query, error) { return s.Select(5) },
				s.Count,
				func() (Query, error) { return s.Page(0, 100) },
			} {
				q, err := build()
				require.NoError(t, err)
				assert.False(t, strings.Contains(q.SQL, term), "term %q leaked into %q", term, q.SQL)
				assert.NotEmpty(t, q.Args)
			}
		}
	}
}

func TestAllColumns(t *testing.T) {
	t.Run("Disjunction", func(t *testing.T) {
		s := Search{Table: "t", Column: AllColumns, Columns: []string{"id", "name"}, Term: "x", Mode: ModeExact}
		where, args, err := s.Where()
		require.NoError(t, err)
		assert.Equal(t, `(CAST("id" AS VARCHAR) = ? OR CAST("name" AS VARCHAR) = ?)`, where)
		assert.Equal(t, []any{"x", "x"}, args)
	})

	t.Run("EmptyColumnsMatchNothing", func(t *testing.T) {
		s := Search{Table: "t", Column: AllColumns, Term: "x", Mode: ModeContains}
		q, err := s.Select(0)
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "t" WHERE FALSE`, q.SQL)
		assert.Empty(t, q.Args)
	})
}

func TestCountAndPage(t *testing.T) {
	s := Search{Table: "t", Column: "c", Term: "v", Mode: ModeContains}

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "t" WHERE CAST("c" AS VARCHAR) ILIKE ? ESCAPE '\'`, count.SQL)

	page, err := s.Page(41, 1000)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT rowid AS "__gharp_rowid", * FROM "t" WHERE CAST("c" AS VARCHAR) ILIKE ? ESCAPE '\' AND rowid > ? ORDER BY rowid LIMIT 1000`,
		page.SQL)
	assert.Equal(t, []any{"%v%", int64(41)}, page.Args)

	_, err = s.Page(0, 0)
	assert.True(t, errors.HasCode(err, ErrInvalidLimit))
}

func TestValidation(t *testing.T) {
	_, err := Build("", ModeContains, "c", "t", 0)
	assert.True(t, errors.HasCode(err, ErrEmptyTerm))

	_, err = Build("x", Mode("fuzzy"), "c", "t", 0)
	assert.True(t, errors.HasCode(err, ErrInvalidMode))

	_, err = Build("([", ModeRegex, "c", "t", 0)
	assert.True(t, errors.HasCode(err, ErrInvalidPattern))

	_, err = Build("x", ModeContains, "", "t", 0)
	assert.True(t, errors.HasCode(err, ErrMissingColumn))

	_, err = Build("x", ModeContains, "c", "", 0)
	assert.True(t, errors.HasCode(err, ErrMissingTable))

	_, err = Build("x", ModeContains, "c", "t", -1)
	assert.True(t, errors.HasCode(err, ErrInvalidLimit))

	q, err := Build("x", ModeContains, `we"ird`, "t", 0)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `CAST("we""ird" AS VARCHAR)`)
	assert.NotContains(t, q.SQL, "LIMIT")
}

func TestPredicatesAgainstDuckDB(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewMemoryStore(ctx, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Exec(ctx, `CREATE TABLE people AS SELECT * FROM (VALUES
		(1, 'Alice'), (2, 'alice'), (3, 'Malice'), (4, '50% off'), (5, '50x off'), (6, 'Bob')) v(id, name)`)
	require.NoError(t, err)

	count := func(term string, mode Mode, column string) int {
		q, err := Search{Table: "people", Column: column, Columns: []string{"id", "name"}, Term: term, Mode: mode}.Count()
		require.NoError(t, err)
		var n int
		require.NoError(t, s.ScanRow(ctx, q.SQL, q.Args, &n))
		return n
	}

	assert.Equal(t, 3, count("alice", ModeContains, "name"))
	assert.Equal(t, 1, count("Alice", ModeExact, "name"))
	assert.Equal(t, 0, count("ALICE", ModeExact, "name"))
	assert.Equal(t, 2, count("ALI", ModeStartsWith, "name"))
	assert.Equal(t, 3, count("ICE", ModeEndsWith, "name"))
	assert.Equal(t, 2, count("^a", ModeRegex, "name"))
	assert.Equal(t, 1, count("50%", ModeContains, "name"), "percent matches literally")
	assert.Equal(t, 1, count("4", ModeExact, "id"), "numeric columns are compared as text")
	assert.Equal(t, 1, count("6", ModeContains, AllColumns))

	q, err := Search{Table: "people", Column: "name", Term: "alice", Mode: ModeContains}.Page(0, 10)
	require.NoError(t, err)
	rs, err := s.QueryAll(ctx, q.SQL, q.Args...)
	require.NoError(t, err)
	assert.Equal(t, []string{RowIDColumn, "id", "name"}, rs.Columns)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, "alice", rs.Rows[0][2])
}
