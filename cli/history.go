package cli

import (
	"fmt"
	"time"

	"github.com/gear6io/gharp/server/config"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's recent searches",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "Show the most frequent searches across all users",
	Args:  cobra.NoArgs,
	RunE:  runPopular,
}

type historyOptions struct {
	user   string
	limit  int
	format string
}

type popularOptions struct {
	days   int
	limit  int
	format string
}

var (
	historyOpts = &historyOptions{}
	popularOpts = &popularOptions{}
)

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(popularCmd)

	historyCmd.Flags().StringVar(&historyOpts.user, "user", "", "user whose history to show (default $USER)")
	historyCmd.Flags().IntVar(&historyOpts.limit, "limit", 0, "entries to show (default from config)")
	historyCmd.Flags().StringVar(&historyOpts.format, "format", "table", "output format: table, json")

	popularCmd.Flags().IntVar(&popularOpts.days, "days", 0, "look-back window in days (default from config)")
	popularCmd.Flags().IntVar(&popularOpts.limit, "limit", 5, "searches to show")
	popularCmd.Flags().StringVar(&popularOpts.format, "format", "table", "output format: table, json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	user := userOr(historyOpts.user)
	if user == "" {
		user = config.ANONYMOUS_USER
	}
	limit := historyOpts.limit
	if limit <= 0 {
		limit = srv.Config().Search.HistoryLimit
	}

	entries, err := srv.History().Recent(ctx, user, limit)
	if err != nil {
		d.Error("Failed to read history: %v", err)
		return err
	}
	if historyOpts.format == "json" {
		return d.JSON(entries)
	}
	if len(entries) == 0 {
		d.Info("No searches recorded for %s", user)
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Term,
			e.Column,
			e.Mode,
			fmt.Sprintf("%d", e.FilesSearched),
			fmt.Sprintf("%d", e.ResultCount),
			fmt.Sprintf("%.1f", e.DurationMS),
		})
	}
	return d.Table([]string{"When", "Term", "Column", "Mode", "Files", "Results", "ms"}, rows)
}

func runPopular(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer closeServer(cmd, srv)

	window := srv.Config().Search.PopularWindow()
	if popularOpts.days > 0 {
		window = time.Duration(popularOpts.days) * 24 * time.Hour
	}

	popular, err := srv.History().Popular(ctx, window, popularOpts.limit)
	if err != nil {
		d.Error("Failed to read popular searches: %v", err)
		return err
	}
	if popularOpts.format == "json" {
		return d.JSON(popular)
	}
	if len(popular) == 0 {
		d.Info("No searches in the last %s", window)
		return nil
	}

	rows := make([][]string, 0, len(popular))
	for _, p := range popular {
		rows = append(rows, []string{
			p.Term,
			p.Column,
			fmt.Sprintf("%d", p.SearchCount),
			fmt.Sprintf("%.1f", p.AvgDurationMS),
			fmt.Sprintf("%d", p.TotalResults),
		})
	}
	return d.Table([]string{"Term", "Column", "Searches", "Avg ms", "Results"}, rows)
}
