package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"termsched/internal/buildinfo"
	"termsched/internal/config"
	"termsched/internal/logging"
	"termsched/internal/store"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "termsched",
	Short:         "Terminal slot suggestion and rescheduling service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "termsched %s", info.Version)
		if info.Commit != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " (%s)", info.Commit)
		}
		fmt.Fprintf(cmd.OutOrStdout(), " %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, suggestCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.Setup(cfg.Environment)
	return nil
}

// openStore returns the SQL store when DATABASE_URL is set and the in-memory
// store otherwise.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
		return store.NewMemory(), nil
	}
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	if cfg.DBMigrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info().Str("driver", st.Driver()).Msg("store ready")
	return st, nil
}
