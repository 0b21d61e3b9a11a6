// Package cmd wires the CLI: configuration loading, logger initialization
// and the scrape/export subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

// Version is stamped at build time.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "review-scraper",
	Short:   "Scrapes Amazon product reviews across all star-filter partitions.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		if err := config.Load(viper.GetViper()); err != nil {
			observability.InitializeLogger(observability.LoggerConfig{Level: "info", Format: "console", ServiceName: "review-scraper"})
			return err
		}

		cfg := config.Get()
		if err := cfg.Validate(); err != nil {
			observability.InitializeLogger(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		observability.InitializeLogger(cfg.Logger)
		logger := observability.GetLogger()
		logger.Info("Starting review-scraper", zap.String("version", Version))
		for _, warning := range cfg.Warnings() {
			logger.Warn(warning)
		}
		return nil
	},
}

// Execute runs the root command with a context that main cancels on SIGINT
// or SIGTERM.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(exportCmd)
}

// initializeConfig reads the config file and ARS_-prefixed environment
// variables into Viper.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ARS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The connection string usually arrives through the environment rather
	// than the config file.
	_ = viper.BindEnv("postgres.url", "ARS_POSTGRES_URL")
	_ = viper.BindEnv("scrape.target_url", "ARS_TARGET_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars carry the run.
	}
	return nil
}
