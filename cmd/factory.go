package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/browser"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/controller"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/export"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/humanoid"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/store"
)

// Components holds the initialized services a scrape run needs, so their
// lifecycles can be torn down in one place and in the right order.
type Components struct {
	DBPool     *pgxpool.Pool
	Store      *store.SessionStore
	Browser    *browser.Manager
	Inspector  *browser.Inspector
	Supervisor *controller.Supervisor
	Metrics    *observability.Metrics
}

// buildComponents performs the dependency wiring for the scrape command.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("postgres.url is required (set ARS_POSTGRES_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	metrics := observability.NewMetrics()
	sessionStore, err := store.New(ctx, pool, logger, metrics)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	manager := browser.NewManager(ctx, logger, cfg)
	inspector := browser.NewInspector(logger, schemas.DefaultFilterSet)
	gestures := humanoid.New(cfg.Browser.Humanoid, logger)
	exporter := &fileExporter{path: cfg.Export.OutputFile, logger: logger}

	ctrl := controller.New(cfg.Scrape, logger, inspector, sessionStore, gestures, exporter, nil, metrics)
	supervisor := controller.NewSupervisor(ctrl, sessionStore, logger, metrics, cfg.Scrape.TickInterval)

	return &Components{
		DBPool:     pool,
		Store:      sessionStore,
		Browser:    manager,
		Inspector:  inspector,
		Supervisor: supervisor,
		Metrics:    metrics,
	}, nil
}

// Shutdown releases resources in reverse dependency order: browser first,
// then pending store writes, then the pool they need.
func (c *Components) Shutdown(logger *zap.Logger) {
	if c.Browser != nil {
		c.Browser.Shutdown()
		logger.Debug("Browser shut down")
	}
	if c.Store != nil {
		c.Store.Flush()
		logger.Debug("Session store flushed")
	}
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database pool closed")
	}
}

// fileExporter writes completed record sets to the configured CSV file.
type fileExporter struct {
	path   string
	logger *zap.Logger
}

func (e *fileExporter) Export(ctx context.Context, records []schemas.Review) error {
	if err := export.WriteFile(e.path, records); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.path, err)
	}
	e.logger.Info("Wrote CSV export",
		zap.String("path", e.path), zap.Int("records", len(records)))
	return nil
}
