package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/export"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/store"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the persisted session's records to a CSV file.",
	Long: `Serializes whatever the stored scrape session has accumulated so far,
without opening a browser. Useful after an interrupted or halted run.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (defaults to export.output_file)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logger := observability.GetLogger()
	ctx := cmd.Context()

	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required (set ARS_POSTGRES_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	sessionStore, err := store.New(ctx, pool, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	session, found, err := sessionStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		return fmt.Errorf("no persisted session to export")
	}

	path := exportOutput
	if path == "" {
		path = cfg.Export.OutputFile
	}
	if err := export.WriteFile(path, session.Records); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info("Exported session records",
		zap.String("path", path),
		zap.Int("records", len(session.Records)),
		zap.Bool("session_active", session.Active))
	return nil
}
