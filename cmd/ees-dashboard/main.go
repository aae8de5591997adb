package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Orine99/ees-education-dashboard/internal/common"
	"github.com/Orine99/ees-education-dashboard/internal/config"
)

const serviceName = "ees-dashboard"

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Paginated, cached access to Explore Education Statistics data sets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("base-url", "", "Statistics API root (overrides EES_API_BASE)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Human-readable console logs (overrides LOG_PRETTY)")
	rootCmd.PersistentFlags().String("datasets", "", "Comma separated data set ids to warm (overrides EES_DATASET_IDS)")

	rootCmd.AddCommand(newServeCmd(), newQueryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates configuration and builds the root logger.
func setup(cmd *cobra.Command) (*config.AppConfig, zerolog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	logger := common.NewLogger(cfg.LogLevel, cfg.LogPretty).With().Str("service", serviceName).Logger()
	return cfg, logger, nil
}
