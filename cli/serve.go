package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the JSON API until interrupted. The listen address comes from
server.http_address in the config file or --address.

Examples:
  gharp serve
  gharp serve --address 0.0.0.0:2847 --data-dir /srv/data
  gharp serve --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

type serveOptions struct {
	address         string
	watch           bool
	shutdownTimeout time.Duration
}

var serveOpts = &serveOptions{}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveOpts.address, "address", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveOpts.watch, "watch", false, "process the data directory and follow it for changes")
	serveCmd.Flags().DurationVar(&serveOpts.shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	cfg := getConfigFromContext(ctx)
	if serveOpts.address != "" {
		cfg.Server.HTTPAddress = serveOpts.address
	}
	if serveOpts.watch {
		cfg.Scan.Watch = true
	}

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		d.Error("Failed to start: %v", err)
		closeServer(cmd, srv)
		return err
	}
	d.Success("Listening on http://%s (data dir %s)", cfg.Server.HTTPAddress, cfg.Scan.DataDir)

	<-ctx.Done()
	logger.Info().Msg("Shutting down gharp server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveOpts.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	logger.Info().Msg("Server stopped gracefully")
	return nil
}
