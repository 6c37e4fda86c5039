package cli

import (
	"fmt"
	"path/filepath"

	"github.com/gear6io/gharp/server/convert"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert <input-dir> <output-dir>",
	Short: "Convert CSV files to typed Parquet",
	Long: `Convert every CSV file in a directory to Parquet. Column types come from
the column names: ids become integers, scores and amounts numbers, flags
booleans and dates timestamps. Values that do not convert become NULL.

Examples:
  gharp convert ./csv ./parquet
  gharp convert ./csv ./parquet --compression zstd --overwrite`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

type convertOptions struct {
	overwrite   bool
	compression string
	format      string
}

var convertOpts = &convertOptions{}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().BoolVar(&convertOpts.overwrite, "overwrite", false, "replace existing Parquet files")
	convertCmd.Flags().StringVar(&convertOpts.compression, "compression", "", "parquet compression (default from config)")
	convertCmd.Flags().StringVar(&convertOpts.format, "format", "table", "output format: table, json")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	if convertOpts.compression != "" {
		getConfigFromContext(ctx).Export.Compression = convertOpts.compression
	}

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	logger.Info().Str("cmd", "convert").Str("input", args[0]).Str("output", args[1]).Msg("Starting conversion")
	results, err := srv.Converter().ConvertDirectory(ctx, args[0], args[1], convertOpts.overwrite)
	if err != nil {
		d.Error("Conversion failed: %v", err)
		return err
	}
	if convertOpts.format == "json" {
		return d.JSON(results)
	}
	if len(results) == 0 {
		d.Info("No CSV files in %s", args[0])
		return nil
	}

	var inMB, outMB float64
	converted, failed := 0, 0
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := "converted"
		switch {
		case r.Error != "":
			state = "error: " + truncate(r.Error, 50)
			failed++
		case r.Skipped:
			state = "exists"
		default:
			converted++
			inMB += r.InputMB
			outMB += r.OutputMB
		}
		rows = append(rows, []string{
			filepath.Base(r.Source),
			fmt.Sprintf("%d", r.Columns[convert.KindInteger]),
			fmt.Sprintf("%d", r.Columns[convert.KindNumeric]),
			fmt.Sprintf("%d", r.Columns[convert.KindBoolean]),
			fmt.Sprintf("%d", r.Columns[convert.KindTimestamp]),
			fmt.Sprintf("%.2f", r.OutputMB),
			state,
		})
	}
	if err := d.Table([]string{"File", "Int", "Num", "Bool", "Time", "MB", "State"}, rows); err != nil {
		return err
	}

	if failed > 0 {
		d.Warning("%d converted, %d failed", converted, failed)
		return nil
	}
	if inMB > 0 {
		d.Success("%d converted, %.2f MB to %.2f MB (%.0f%% smaller)", converted, inMB, outMB, (1-outMB/inMB)*100)
	} else {
		d.Success("%d converted", converted)
	}
	return nil
}
