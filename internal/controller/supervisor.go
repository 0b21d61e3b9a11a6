package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/export"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

// Supervisor drives the controller on a fixed interval, with an immediate
// first tick. Ticks run on their own goroutine behind a re-entrancy guard:
// a firing that finds a tick still in flight is dropped, not queued. Nothing
// is lost by dropping since all state is persisted and the next firing
// retries.
type Supervisor struct {
	controller *Controller
	store      SessionStore
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// NewSupervisor wraps a controller in a tick scheduler.
func NewSupervisor(c *Controller, store SessionStore, logger *zap.Logger, metrics *observability.Metrics, interval time.Duration) *Supervisor {
	return &Supervisor{
		controller: c,
		store:      store,
		logger:     logger.Named("supervisor"),
		metrics:    metrics,
		interval:   interval,
	}
}

// Run ticks until ctx is cancelled, then drains the in-flight tick.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Supervisor started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Supervisor stopping, draining in-flight tick")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.TicksDropped.Inc()
		s.logger.Debug("Previous tick still running, dropping this one")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)

		err := s.controller.Tick(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.logger.Debug("Tick cancelled", zap.Error(err))
		case errors.Is(err, ErrSessionHalted):
			s.logger.Error("Session halted", zap.Error(err))
		default:
			s.logger.Warn("Tick failed", zap.Error(err))
		}
	}()
}

// Start arms session creation on the next tick.
func (s *Supervisor) Start() { s.controller.RequestStart() }

// Stop asks the controller to deactivate the session on its next tick.
func (s *Supervisor) Stop() { s.controller.RequestStop() }

// Status answers a get-status query from the persisted session.
func (s *Supervisor) Status(ctx context.Context) (schemas.Status, error) {
	session, found, err := s.store.Load(ctx)
	if err != nil {
		return schemas.Status{}, err
	}
	if !found {
		return schemas.Status{}, nil
	}
	return schemas.Status{
		IsScanning:       session.Active,
		TotalRecordCount: len(session.Records),
	}, nil
}

// RequestExport serializes whatever the persisted session has accumulated so
// far, without disturbing the traversal.
func (s *Supervisor) RequestExport(ctx context.Context) schemas.ExportResult {
	session, found, err := s.store.Load(ctx)
	if err != nil {
		return schemas.ExportResult{Error: err.Error()}
	}
	if !found {
		return schemas.ExportResult{Error: "no session to export"}
	}
	return schemas.ExportResult{Success: true, CSV: export.Serialize(session.Records)}
}
