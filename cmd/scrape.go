package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

const statusLogInterval = 30 * time.Second

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run the review scrape until all star partitions are exhausted.",
	Long: `Opens the target product page in a headless browser and walks the review
listing one star filter at a time, page by page, persisting progress after
every page so an interrupted run resumes where it left off.`,
	RunE: runScrape,
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logger := observability.GetLogger()
	ctx := cmd.Context()

	if cfg.Scrape.TargetURL == "" {
		return fmt.Errorf("scrape.target_url is required (set ARS_TARGET_URL or the config file)")
	}

	components, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown(logger)

	observability.ServeMetrics(ctx, cfg.Metrics.Addr, components.Metrics, logger)

	tabCtx, err := components.Browser.OpenTab(cfg.Scrape.TargetURL)
	if err != nil {
		return fmt.Errorf("failed to open target page: %w", err)
	}

	go logStatus(ctx, components, logger)

	// The CLI invocation is the start signal; the first tick that finds no
	// persisted session creates one.
	components.Supervisor.Start()

	logger.Info("Scrape started",
		zap.String("target", cfg.Scrape.TargetURL),
		zap.Duration("tick_interval", cfg.Scrape.TickInterval))

	// Ticks run against the tab context so page queries land in the tab;
	// it descends from cmd's context, so SIGINT tears both down.
	if err := components.Supervisor.Run(tabCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Scrape stopped")
	return nil
}

// logStatus periodically surfaces traversal progress from the persisted
// session.
func logStatus(ctx context.Context, components *Components, logger *zap.Logger) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := components.Supervisor.Status(ctx)
			if err != nil {
				logger.Debug("Status query failed", zap.Error(err))
				continue
			}
			logger.Info("Scrape status",
				zap.Bool("scanning", status.IsScanning),
				zap.Int("total_records", status.TotalRecordCount))
		}
	}
}
