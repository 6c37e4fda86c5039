package cli

import (
	"context"
	"os"

	"github.com/gear6io/gharp/server"
	"github.com/gear6io/gharp/server/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type (
	loggerKey struct{}
	configKey struct{}
)

var rootCmd = &cobra.Command{
	Use:   "gharp",
	Short: "Search across many CSV and Parquet files at once",
	Long: `gharp loads CSV and Parquet files into an embedded analytical store and
searches them together.

Files are scanned, materialized once into tables and re-materialized only
when they change on disk. Searches fan out over every file holding the
requested column; results are counted in a persistent cache and every
search is recorded in a per-user history.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

type rootOptions struct {
	configFile string
	dataDir    string
	database   string
	verbose    bool
}

var rootOpts = &rootOptions{}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteWithContext runs the root command with ctx, which may already carry
// a display
func ExecuteWithContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// setup loads the configuration and the logger before any subcommand runs
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if rootOpts.dataDir != "" {
		cfg.Scan.DataDir = rootOpts.dataDir
	}
	if rootOpts.database != "" {
		cfg.Database.Path = rootOpts.database
	}
	if rootOpts.verbose {
		cfg.Log.Level = "debug"
	}
	// Log lines would interleave with tables on the terminal
	cfg.Log.Console = rootOpts.verbose || cmd.Name() == "serve"

	logger, err := config.SetupLogger(cfg)
	if err != nil {
		return err
	}

	// Subcommands keep the context of an earlier run; start from the root's
	ctx := cmd.Root().Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, configKey{}, cfg)
	ctx = context.WithValue(ctx, loggerKey{}, logger)
	cmd.SetContext(ctx)

	logger.Debug().Str("cmd", cmd.Name()).Msg("Executing command")
	return nil
}

// loadConfig reads --config. The default file is optional; an explicitly
// named one must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := rootOpts.configFile
	if path == "" {
		path = config.DEFAULT_CONFIG_FILE
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && !cmd.Flags().Changed("config") {
		return config.LoadDefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// getLoggerFromContext retrieves the logger from context
func getLoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// getConfigFromContext retrieves the configuration from context
func getConfigFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.LoadDefaultConfig()
}

// getDisplayFromContext retrieves the display instance from context
func getDisplayFromContext(ctx context.Context) Display {
	return GetDisplayOrDefault(ctx)
}

// openServer wires the services for one command. Callers shut it down.
func openServer(cmd *cobra.Command) (*server.Server, error) {
	ctx := cmd.Context()
	d := getDisplayFromContext(ctx)
	srv, err := server.New(ctx, getConfigFromContext(ctx), getLoggerFromContext(ctx))
	if err != nil {
		d.Error("Failed to open store: %v", err)
		return nil, err
	}
	return srv, nil
}

func closeServer(cmd *cobra.Command, srv *server.Server) {
	if err := srv.Shutdown(context.Background()); err != nil {
		logger := getLoggerFromContext(cmd.Context())
		logger.Warn().Err(err).Msg("Shutdown failed")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.configFile, "config", "c", "", "config file (default "+config.DEFAULT_CONFIG_FILE+")")
	rootCmd.PersistentFlags().StringVar(&rootOpts.dataDir, "data-dir", "", "directory holding CSV and Parquet files")
	rootCmd.PersistentFlags().StringVar(&rootOpts.database, "database", "", "path of the store database file")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.verbose, "verbose", "v", false, "verbose output")
}
