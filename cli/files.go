package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gear6io/gharp/server/materializer"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Describe the files in a data directory",
	Long: `Scan a directory for CSV and Parquet files and show their schema, row
count and health without loading anything.

Examples:
  gharp scan
  gharp scan ./exports --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var processCmd = &cobra.Command{
	Use:   "process [files...]",
	Short: "Load files into searchable tables",
	Long: `Materialize files into tables of the store. Without arguments every file
in the data directory is processed. Files whose table is current are skipped
unless --force is given.

Examples:
  gharp process
  gharp process data/customers.csv --force`,
	RunE: runProcess,
}

var columnsCmd = &cobra.Command{
	Use:   "columns [column]",
	Short: "Show which processed files hold each column",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runColumns,
}

var removeCmd = &cobra.Command{
	Use:   "remove <file>",
	Short: "Drop a file's table and catalog record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop tables whose source file is gone and expired cache entries",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

type scanOptions struct {
	format string
}

type processOptions struct {
	force  bool
	format string
}

type removeOptions struct {
	deleteSource bool
}

var (
	scanOpts    = &scanOptions{}
	processOpts = &processOptions{}
	removeOpts  = &removeOptions{}
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(columnsCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(cleanupCmd)

	scanCmd.Flags().StringVar(&scanOpts.format, "format", "table", "output format: table, json")

	processCmd.Flags().BoolVar(&processOpts.force, "force", false, "re-materialize files that are current")
	processCmd.Flags().StringVar(&processOpts.format, "format", "table", "output format: table, json")

	removeCmd.Flags().BoolVar(&removeOpts.deleteSource, "delete-source", false, "also delete the source file")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	dir := getConfigFromContext(ctx).Scan.DataDir
	if len(args) == 1 {
		dir = args[0]
	}
	logger.Info().Str("cmd", "scan").Str("dir", dir).Msg("Starting scan")

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	list, err := srv.Scanner().Scan(ctx, dir)
	if err != nil {
		d.Error("Failed to scan %s: %v", dir, err)
		return err
	}
	overview := metadata.Summarize(list)

	if scanOpts.format == "json" {
		return d.JSON(map[string]any{"overview": overview, "files": list})
	}

	if len(list) == 0 {
		d.Info("No CSV or Parquet files in %s", dir)
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, md := range list {
		note := md.Error
		if note == "" {
			note = strings.Join(md.Columns, ", ")
		}
		rows = append(rows, []string{
			md.FileName,
			string(md.Format),
			string(md.Status),
			fmt.Sprintf("%d", md.RowCount),
			fmt.Sprintf("%.2f", md.SizeMB),
			truncate(note, 60),
		})
	}
	if err := d.Table([]string{"File", "Format", "Status", "Rows", "Size (MB)", "Columns"}, rows); err != nil {
		return err
	}
	d.Info("%d files, %d rows, %.2f MB, %d unique columns, %d errors",
		overview.TotalFiles, overview.TotalRows, overview.TotalSizeMB, overview.UniqueColumns, overview.ErrorFiles)
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	logger := getLoggerFromContext(ctx)
	logger.Info().Str("cmd", "process").Int("files", len(args)).Bool("force", processOpts.force).Msg("Starting process")

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	var outcomes []materializer.Outcome
	if len(args) > 0 {
		outcomes = srv.Materializer().ProcessFiles(ctx, args, processOpts.force)
	} else {
		outcomes, err = srv.Materializer().ProcessDirectory(ctx, srv.Config().Scan.DataDir, processOpts.force)
		if err != nil {
			d.Error("Failed to process directory: %v", err)
			return err
		}
	}

	if processOpts.format == "json" {
		return d.JSON(outcomes)
	}

	processed, skipped, failed := 0, 0, 0
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		state, table := "processed", ""
		switch {
		case o.Error != "":
			state = "error: " + truncate(o.Error, 60)
			failed++
		case o.Skipped:
			state = "current"
			skipped++
		default:
			processed++
		}
		if o.Metadata != nil {
			table = o.Metadata.TableName
		}
		rows = append(rows, []string{filepath.Base(o.FilePath), table, state, o.Duration.Round(time.Millisecond).String()})
	}
	if len(rows) > 0 {
		if err := d.Table([]string{"File", "Table", "State", "Duration"}, rows); err != nil {
			return err
		}
	}

	if failed > 0 {
		d.Warning("%d processed, %d current, %d failed", processed, skipped, failed)
	} else {
		d.Success("%d processed, %d current", processed, skipped)
	}
	return nil
}

func runColumns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	ci, err := srv.Index().Columns(ctx)
	if err != nil {
		d.Error("Failed to build column index: %v", err)
		return err
	}

	names := ci.Columns()
	if len(args) == 1 {
		names = []string{args[0]}
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		files := make([]string, len(ci[name]))
		for i, f := range ci[name] {
			files[i] = filepath.Base(f)
		}
		rows = append(rows, []string{name, fmt.Sprintf("%d", len(files)), truncate(strings.Join(files, ", "), 80)})
	}
	if len(rows) == 0 {
		d.Info("No processed files; run 'gharp process' first")
		return nil
	}
	return d.Table([]string{"Column", "Files", "In"}, rows)
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	if err := srv.Materializer().Remove(ctx, args[0], removeOpts.deleteSource); err != nil {
		d.Error("Failed to remove %s: %v", args[0], err)
		return err
	}
	d.Success("Removed %s", args[0])
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	removed, err := srv.Materializer().CleanupOrphans(ctx)
	if err != nil {
		d.Error("Cleanup failed: %v", err)
		return err
	}
	swept, err := srv.Cache().Sweep(ctx)
	if err != nil {
		d.Warning("Cache sweep failed: %v", err)
	}
	d.Success("Dropped %d orphaned tables, %d expired cache entries", removed, swept)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
