package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics bundles Prometheus collectors for the scrape session.
type Metrics struct {
	Registry           *prometheus.Registry
	RecordsExtracted   prometheus.Counter
	PagesProcessed     prometheus.Counter
	ChallengesObserved prometheus.Counter
	StalledPagers      prometheus.Counter
	FilterSwitches     prometheus.Counter
	TicksDropped       prometheus.Counter
	ExtractionErrors   *prometheus.CounterVec
	StoreWriteFailures *prometheus.CounterVec
}

// NewMetrics constructs and registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	records := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_records_extracted_total",
		Help: "Total review records appended to the session.",
	})
	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_pages_processed_total",
		Help: "Total listing pages extracted.",
	})
	challenges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_challenges_observed_total",
		Help: "Ticks skipped because an anti-automation challenge was on screen.",
	})
	stalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_stalled_pagers_total",
		Help: "Next-page clicks that did not change the observed page number.",
	})
	switches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_filter_switches_total",
		Help: "Transitions between star-filter partitions.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_ticks_dropped_total",
		Help: "Controller ticks dropped by the re-entrancy guard.",
	})
	extractionErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_extraction_errors_total",
		Help: "Per-card extraction failures by reason.",
	}, []string{"reason"})
	storeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_store_write_failures_total",
		Help: "Session persistence failures by tier.",
	}, []string{"tier"})

	registry.MustRegister(records, pages, challenges, stalls, switches, dropped, extractionErrors, storeFailures)

	return &Metrics{
		Registry:           registry,
		RecordsExtracted:   records,
		PagesProcessed:     pages,
		ChallengesObserved: challenges,
		StalledPagers:      stalls,
		FilterSwitches:     switches,
		TicksDropped:       dropped,
		ExtractionErrors:   extractionErrors,
		StoreWriteFailures: storeFailures,
	}
}

// ServeMetrics exposes the registry over HTTP until ctx is cancelled. It is a
// no-op when addr is empty.
func ServeMetrics(ctx context.Context, addr string, m *Metrics, logger *zap.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
}
