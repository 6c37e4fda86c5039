package search

import (
	"context"
	"io"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/query"
	"github.com/gear6io/gharp/server/store"
)

// Stream delivers the matches of one file in bounded chunks. Each chunk is
// a separate keyset query resuming after the last rowid seen, so a stream
// can be dropped at any point without cleanup. A Stream is not safe for
// concurrent use and cannot be restarted.
type Stream struct {
	store     *store.Store
	search    query.Search
	chunkSize int
	total     int64

	after     int64
	delivered int64
	chunks    int
	done      bool
}

func openStream(ctx context.Context, s *store.Store, search query.Search, chunkSize int) (*Stream, error) {
	count, err := search.Count()
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.ScanRow(ctx, count.SQL, count.Args, &total); err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to count matches", err).AddContext("table", search.Table)
	}

	return &Stream{
		store:     s,
		search:    search,
		chunkSize: chunkSize,
		total:     total,
		after:     -1,
		done:      total == 0,
	}, nil
}

// Total is the match count taken when the stream was opened
func (st *Stream) Total() int64 {
	return st.total
}

// Delivered is the number of rows returned so far
func (st *Stream) Delivered() int64 {
	return st.delivered
}

// Chunks is the number of chunks returned so far
func (st *Stream) Chunks() int {
	return st.chunks
}

// Next returns the next chunk of at most the stream's chunk size, or io.EOF
// once every match has been delivered
func (st *Stream) Next(ctx context.Context) (*store.ResultSet, error) {
	if st.done {
		return nil, io.EOF
	}

	page, err := st.search.Page(st.after, st.chunkSize)
	if err != nil {
		return nil, err
	}
	rs, err := st.store.QueryAll(ctx, page.SQL, page.Args...)
	if err != nil {
		return nil, errors.New(ErrQueryFailed, "failed to fetch chunk", err).AddContext("table", st.search.Table)
	}

	if len(rs.Rows) < st.chunkSize {
		st.done = true
	}
	if len(rs.Rows) == 0 {
		return nil, io.EOF
	}

	last, ok := rs.Rows[len(rs.Rows)-1][0].(int64)
	if !ok {
		return nil, errors.New(ErrQueryFailed, "chunk cursor is not an integer", nil).AddContext("table", st.search.Table)
	}
	st.after = last

	chunk := &store.ResultSet{Columns: rs.Columns[1:], Rows: make([][]any, len(rs.Rows))}
	for i, row := range rs.Rows {
		chunk.Rows[i] = row[1:]
	}

	st.delivered += int64(len(chunk.Rows))
	st.chunks++
	return chunk, nil
}
