package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gear6io/gharp/server"
	"github.com/gear6io/gharp/server/export"
	"github.com/gear6io/gharp/server/query"
	"github.com/gear6io/gharp/server/search"
	"github.com/gear6io/gharp/server/store"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search processed files for a term",
	Long: `Search one column, or every column, of the processed files.

Files default to every processed file holding the column. Match modes are
contains, exact, starts_with, ends_with and regex; only exact is case
sensitive. Streaming reads each file in chunks with no row cap.

Examples:
  gharp search alice --column name
  gharp search '^a.*@example\.com$' --column email --mode regex
  gharp search 42 --file data/orders.csv --stream --chunk-size 5000`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var exportCmd = &cobra.Command{
	Use:   "export <term>",
	Short: "Search and write every matching row to one file",
	Long: `Run a search without the cache and write the combined rows, with a
leading source_file column, as CSV, JSON or Parquet.

Examples:
  gharp export alice --column name --format parquet
  gharp export smith --output smiths.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

type searchOptions struct {
	column    string
	mode      string
	limit     int
	files     []string
	parallel  bool
	stream    bool
	chunkSize int
	user      string
	format    string
	showRows  int
	noCache   bool
}

type exportOptions struct {
	column      string
	mode        string
	files       []string
	user        string
	format      string
	output      string
	compression string
}

var (
	searchOpts = &searchOptions{}
	exportOpts = &exportOptions{}
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)

	searchCmd.Flags().StringVar(&searchOpts.column, "column", query.AllColumns, "column to search, * for all columns")
	searchCmd.Flags().StringVar(&searchOpts.mode, "mode", string(query.DefaultMode), "match mode")
	searchCmd.Flags().IntVar(&searchOpts.limit, "limit", 0, "rows per file, 0 for the configured maximum")
	searchCmd.Flags().StringSliceVar(&searchOpts.files, "file", nil, "files to search (repeatable)")
	searchCmd.Flags().BoolVar(&searchOpts.parallel, "parallel", false, "search files concurrently")
	searchCmd.Flags().BoolVar(&searchOpts.stream, "stream", false, "read results in chunks without a row cap")
	searchCmd.Flags().IntVar(&searchOpts.chunkSize, "chunk-size", 0, "rows per streamed chunk")
	searchCmd.Flags().StringVar(&searchOpts.user, "user", "", "user recorded in the search history")
	searchCmd.Flags().StringVar(&searchOpts.format, "format", "table", "output format: table, json")
	searchCmd.Flags().IntVar(&searchOpts.showRows, "show-rows", 10, "matching rows to print per file")
	searchCmd.Flags().BoolVar(&searchOpts.noCache, "no-cache", false, "ignore cached result counts")

	exportCmd.Flags().StringVar(&exportOpts.column, "column", query.AllColumns, "column to search, * for all columns")
	exportCmd.Flags().StringVar(&exportOpts.mode, "mode", string(query.DefaultMode), "match mode")
	exportCmd.Flags().StringSliceVar(&exportOpts.files, "file", nil, "files to search (repeatable)")
	exportCmd.Flags().StringVar(&exportOpts.user, "user", "", "user recorded in the search history")
	exportCmd.Flags().StringVar(&exportOpts.format, "format", "csv", "export format: csv, json, parquet")
	exportCmd.Flags().StringVarP(&exportOpts.output, "output", "o", "", "output file (default search_results_<timestamp>.<format>)")
	exportCmd.Flags().StringVar(&exportOpts.compression, "compression", "", "parquet compression (default from config)")
}

// targets returns the explicit files, or every processed file with column
func targets(ctx context.Context, srv *server.Server, files []string, column string) ([]string, error) {
	if len(files) > 0 {
		return files, nil
	}
	return srv.Index().FilesFor(ctx, column)
}

func userOr(u string) string {
	if u != "" {
		return u
	}
	if env := os.Getenv("USER"); env != "" {
		return env
	}
	return ""
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	mode, err := query.ParseMode(searchOpts.mode)
	if err != nil {
		d.Error("%v", err)
		return err
	}

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	files, err := targets(ctx, srv, searchOpts.files, searchOpts.column)
	if err != nil {
		d.Error("Failed to resolve files: %v", err)
		return err
	}

	req := search.Request{
		User:      userOr(searchOpts.user),
		Column:    searchOpts.column,
		Term:      args[0],
		Mode:      mode,
		Limit:     searchOpts.limit,
		Files:     files,
		Parallel:  searchOpts.parallel,
		Streaming: searchOpts.stream,
		ChunkSize: searchOpts.chunkSize,
		SkipCache: searchOpts.noCache,
	}
	if req.Streaming && searchOpts.format != "json" {
		req.OnChunk = func(ctx context.Context, c search.Chunk) error {
			d.Info("%s chunk %d: %d rows", filepath.Base(c.File), c.Index+1, c.Rows.Len())
			return nil
		}
	}

	logger.Info().Str("cmd", "search").Str("term", req.Term).Str("column", req.Column).Int("files", len(files)).Msg("Starting search")
	resp, err := srv.Executor().Search(ctx, req)
	if err != nil {
		d.Error("Search failed: %v", err)
		return err
	}

	if searchOpts.format == "json" {
		return d.JSON(resp)
	}
	return printResponse(d, resp, searchOpts.showRows)
}

func printResponse(d Display, resp *search.Response, showRows int) error {
	if resp.Cached {
		d.Info("Cached result from %s: %d matches", resp.CacheEntry.CreatedAt.Local().Format(time.DateTime), resp.TotalResults)
		return nil
	}

	rows := make([][]string, 0, len(resp.PerFile))
	for _, o := range resp.PerFile {
		status := "ok"
		if o.Error != "" {
			status = o.Error
		}
		rows = append(rows, []string{o.FileName, fmt.Sprintf("%d", o.RowCount), fmt.Sprintf("%.1f", o.DurationMS), status})
	}
	if err := d.Table([]string{"File", "Matches", "ms", "Status"}, rows); err != nil {
		return err
	}

	for _, o := range resp.PerFile {
		if o.Result == nil || o.Result.Len() == 0 || showRows <= 0 {
			continue
		}
		d.Info("%s", o.FileName)
		if err := d.Table(o.Result.Columns, stringRows(o.Result, showRows)); err != nil {
			return err
		}
		if o.Result.Len() > showRows {
			d.Info("... %d more rows", o.Result.Len()-showRows)
		}
	}

	summary := fmt.Sprintf("%d matches in %d of %d files (%.1f ms)",
		resp.TotalResults, resp.FilesWithMatches, resp.TotalFiles, resp.TotalDurationMS)
	if resp.FilesWithErrors > 0 {
		d.Warning("%s, %d files failed", summary, resp.FilesWithErrors)
	} else {
		d.Success("%s", summary)
	}
	return nil
}

func stringRows(rs *store.ResultSet, max int) [][]string {
	n := rs.Len()
	if n > max {
		n = max
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(rs.Rows[i]))
		for j, v := range rs.Rows[i] {
			if v == nil {
				row[j] = ""
				continue
			}
			row[j] = truncate(fmt.Sprint(v), 40)
		}
		out[i] = row
	}
	return out
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	format, err := export.ParseFormat(exportOpts.format)
	if err != nil {
		d.Error("%v", err)
		return err
	}
	mode, err := query.ParseMode(exportOpts.mode)
	if err != nil {
		d.Error("%v", err)
		return err
	}

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	files, err := targets(ctx, srv, exportOpts.files, exportOpts.column)
	if err != nil {
		d.Error("Failed to resolve files: %v", err)
		return err
	}

	resp, err := srv.Executor().Search(ctx, search.Request{
		User:      userOr(exportOpts.user),
		Column:    exportOpts.column,
		Term:      args[0],
		Mode:      mode,
		Files:     files,
		SkipCache: true,
	})
	if err != nil {
		d.Error("Search failed: %v", err)
		return err
	}

	combined := export.Combine(resp.ExportParts())

	output := exportOpts.output
	if output == "" {
		output = export.FileName("search_results", format, time.Now())
	}
	compression := exportOpts.compression
	if compression == "" {
		compression = srv.Config().Export.Compression
	}

	f, err := os.Create(output)
	if err != nil {
		d.Error("Failed to create %s: %v", output, err)
		return err
	}
	if err := export.Write(f, format, combined, export.Options{Compression: compression}); err != nil {
		f.Close()
		os.Remove(output)
		d.Error("Export failed: %v", err)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info().Str("cmd", "export").Str("output", output).Int("rows", combined.Len()).Msg("Export written")
	d.Success("Wrote %d rows to %s", combined.Len(), output)
	return nil
}
