// Package controller implements the traversal state machine that walks the
// review listing filter by filter and page by page. All traversal state lives
// in the persisted ScrapeSession; each tick reconstructs its position from
// the session plus the rendered page, performs at most one navigating side
// effect, persists, and yields. Resuming after a restart is therefore the
// same code path as any other tick.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

// ErrSessionHalted reports an unrecoverable traversal failure. The session
// has been marked inactive and persisted; a fresh start signal is required.
var ErrSessionHalted = errors.New("session halted")

// -- Collaborator Interfaces --

// PageInspector answers discrete questions about the rendered page and
// triggers single navigating actions. Implemented by browser.Inspector.
type PageInspector interface {
	CurrentURL(ctx context.Context) (string, error)
	CurrentFilter(ctx context.Context) (schemas.StarFilter, bool, error)
	CurrentPageNumber(ctx context.Context) (int, error)
	IsReviewListing(ctx context.Context) (bool, error)
	OpenAllReviews(ctx context.Context) error
	HasNextPage(ctx context.Context) (bool, error)
	ChallengePresent(ctx context.Context) (bool, error)
	ContentReady(ctx context.Context) (bool, error)
	WaitForContentReady(ctx context.Context, timeout time.Duration) bool
	ActivateFilter(ctx context.Context, filter schemas.StarFilter) error
	AdvancePage(ctx context.Context) error
	ExtractReviews(ctx context.Context, filter schemas.StarFilter, pageIndex int) ([]schemas.Review, error)
}

// SessionStore persists the one session aggregate. Implemented by
// store.SessionStore.
type SessionStore interface {
	Load(ctx context.Context) (*schemas.ScrapeSession, bool, error)
	Save(ctx context.Context, session *schemas.ScrapeSession) error
	Clear(ctx context.Context) error
}

// GesturePolicy supplies the human-plausible pacing between navigating
// actions. Implemented by humanoid.Humanoid.
type GesturePolicy interface {
	NextDelay(min, max time.Duration) time.Duration
	Sleep(ctx context.Context, d time.Duration) error
	ScrollTowardPager(ctx context.Context) error
}

// Exporter receives the accumulated records exactly once, on completion.
type Exporter interface {
	Export(ctx context.Context, records []schemas.Review) error
}

// Controller is the traversal state machine. It owns the ScrapeSession
// exclusively: no other component constructs, mutates or clears one.
type Controller struct {
	cfg       config.ScrapeConfig
	logger    *zap.Logger
	inspector PageInspector
	store     SessionStore
	gestures  GesturePolicy
	exporter  Exporter
	notifier  Notifier
	metrics   *observability.Metrics
	filters   schemas.FilterSet

	startRequested atomic.Bool
	stopRequested  atomic.Bool

	now func() time.Time
}

// New creates a controller. A nil notifier falls back to log-backed
// notifications.
func New(
	cfg config.ScrapeConfig,
	logger *zap.Logger,
	inspector PageInspector,
	store SessionStore,
	gestures GesturePolicy,
	exporter Exporter,
	notifier Notifier,
	metrics *observability.Metrics,
) *Controller {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Controller{
		cfg:       cfg,
		logger:    logger.Named("controller"),
		inspector: inspector,
		store:     store,
		gestures:  gestures,
		exporter:  exporter,
		notifier:  notifier,
		metrics:   metrics,
		filters:   schemas.DefaultFilterSet,
		now:       time.Now,
	}
}

// RequestStart arms the start signal: the next tick creates a fresh session
// if none is persisted, or reactivates a stopped or halted one.
func (c *Controller) RequestStart() { c.startRequested.Store(true) }

// RequestStop asks the next tick to flip the session inactive. An in-flight
// wait is not aborted; cancellation latency is bounded by the longest
// configured delay.
func (c *Controller) RequestStop() { c.stopRequested.Store(true) }

// Tick runs one pass of the state machine. It is not re-entrant; the
// supervisor guarantees at most one logically concurrent invocation.
func (c *Controller) Tick(ctx context.Context) error {
	// A challenge interstitial renders no review cards, so it must be
	// probed before the readiness gate or it would be indistinguishable
	// from a slow page load.
	challenged, err := c.inspector.ChallengePresent(ctx)
	if err != nil {
		return fmt.Errorf("challenge probe failed: %w", err)
	}
	if challenged {
		c.metrics.ChallengesObserved.Inc()
		location, _ := c.inspector.CurrentURL(ctx)
		c.notifier.ChallengeAlert(location)
		return nil
	}

	ready, err := c.inspector.ContentReady(ctx)
	if err != nil {
		return fmt.Errorf("readiness probe failed: %w", err)
	}
	if !ready {
		c.logger.Debug("Page not ready, skipping tick")
		return nil
	}

	session, found, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		if !c.startRequested.Swap(false) {
			return nil
		}
		session = schemas.NewScrapeSession(c.now().UnixMilli())
		if err := c.store.Save(ctx, session); err != nil {
			return fmt.Errorf("failed to persist fresh session: %w", err)
		}
		c.logger.Info("Created fresh scrape session",
			zap.String("first_filter", c.filters[0].ID))
	}

	if c.stopRequested.Swap(false) && session.Active {
		session.Active = false
		if err := c.store.Save(ctx, session); err != nil {
			return fmt.Errorf("failed to persist stop: %w", err)
		}
		c.logger.Info("Stop signal observed, session deactivated",
			zap.Int("records_kept", len(session.Records)))
		return nil
	}

	if !session.Active {
		// A session left inactive by a stop or a halt stays parked until a
		// fresh start signal re-arms it; its records carry over.
		if c.startRequested.Swap(false) {
			session.Active = true
			if err := c.store.Save(ctx, session); err != nil {
				return fmt.Errorf("failed to persist restart: %w", err)
			}
			c.logger.Info("Start signal observed, reactivating persisted session",
				zap.Int("filter_index", session.CurrentFilterIndex),
				zap.Int("records_kept", len(session.Records)))
		}
		return nil
	}

	listing, err := c.inspector.IsReviewListing(ctx)
	if err != nil {
		return fmt.Errorf("failed to classify page: %w", err)
	}
	if !listing {
		// On a product detail page; follow the reviews link and let the
		// navigation settle until the next tick.
		c.logger.Info("On product detail page, opening review listing")
		if err := c.inspector.OpenAllReviews(ctx); err != nil {
			return fmt.Errorf("failed to open review listing: %w", err)
		}
		return nil
	}

	location, err := c.inspector.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page address: %w", err)
	}
	if location != "" && location == session.LastObservedURL {
		// Already processed this address; the navigation we triggered last
		// tick has not landed yet.
		c.logger.Debug("Address unchanged since last processed page, skipping tick",
			zap.String("url", location))
		return nil
	}

	expected, ok := session.ExpectedFilter(c.filters)
	if !ok {
		// A persisted index past the filter set should be impossible; the
		// terminal index is never stored. Recover by discarding.
		c.logger.Error("Persisted session has out-of-range filter index, clearing",
			zap.Int("index", session.CurrentFilterIndex))
		_ = c.store.Clear(ctx)
		return nil
	}

	actual, selected, err := c.inspector.CurrentFilter(ctx)
	if err != nil {
		return fmt.Errorf("failed to read active filter: %w", err)
	}
	if !selected || actual.ID != expected.ID {
		if !selected {
			c.logger.Info("No filter selected, steering to expected partition",
				zap.String("filter", expected.ID))
			if err := c.inspector.ActivateFilter(ctx, expected); err != nil {
				return c.halt(ctx, session, fmt.Sprintf("cannot activate filter %s: %v", expected.ID, err))
			}
			c.inspector.WaitForContentReady(ctx, c.cfg.ContentTimeout)
		} else {
			c.logger.Debug("Page filter disagrees with session, awaiting navigation",
				zap.String("page_filter", actual.ID),
				zap.String("expected", expected.ID))
		}
		return nil
	}

	pageNum, err := c.inspector.CurrentPageNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page number: %w", err)
	}

	records, err := c.inspector.ExtractReviews(ctx, expected, pageNum)
	if err != nil {
		c.metrics.ExtractionErrors.WithLabelValues("page").Inc()
		return fmt.Errorf("extraction failed on %s page %d: %w", expected.ID, pageNum, err)
	}
	if len(records) == 0 {
		c.logger.Info("Page yielded no records",
			zap.String("filter", expected.ID), zap.Int("page", pageNum))
	}

	session.Append(records, pageNum)
	session.LastObservedURL = location
	if err := c.store.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to persist extraction results: %w", err)
	}
	c.metrics.RecordsExtracted.Add(float64(len(records)))
	c.metrics.PagesProcessed.Inc()
	c.notifier.Progress(expected.ID, pageNum, len(records), len(session.Records))

	hasNext, err := c.inspector.HasNextPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to probe pagination: %w", err)
	}
	if hasNext {
		advanced, err := c.advance(ctx, pageNum)
		if err != nil {
			return err
		}
		if advanced {
			return nil
		}
		// The next control was clickable but the page number did not move.
		// Treated as end of partition, not retried.
		c.metrics.StalledPagers.Inc()
		c.logger.Warn("Pager stalled, treating as end of partition",
			zap.String("filter", expected.ID), zap.Int("page", pageNum))
	}

	return c.switchFilter(ctx, session, expected)
}

// advance performs the delayed, scrolled next-page click and reports whether
// the observed page number actually moved.
func (c *Controller) advance(ctx context.Context, currentPage int) (bool, error) {
	delay := c.gestures.NextDelay(
		time.Duration(c.cfg.DelayMinMs)*time.Millisecond,
		time.Duration(c.cfg.DelayMaxMs)*time.Millisecond,
	)
	c.notifier.WaitCountdown(delay)

	if err := c.gestures.ScrollTowardPager(ctx); err != nil {
		return false, fmt.Errorf("scroll gesture failed: %w", err)
	}
	if err := c.gestures.Sleep(ctx, delay); err != nil {
		return false, err
	}

	if err := c.inspector.AdvancePage(ctx); err != nil {
		// The control disappeared between the probe and the click.
		c.logger.Warn("Next-page click failed", zap.Error(err))
		return false, nil
	}
	c.inspector.WaitForContentReady(ctx, c.cfg.ContentTimeout)

	after, err := c.inspector.CurrentPageNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to re-read page number: %w", err)
	}
	return after != currentPage, nil
}

// switchFilter advances the session to the next partition, or completes the
// scrape when the set is exhausted.
func (c *Controller) switchFilter(ctx context.Context, session *schemas.ScrapeSession, current schemas.StarFilter) error {
	if !session.AdvanceFilter(c.filters) {
		return c.complete(ctx, session)
	}

	next, _ := session.ExpectedFilter(c.filters)
	if err := c.store.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to persist filter switch: %w", err)
	}
	c.metrics.FilterSwitches.Inc()
	c.notifier.FilterSwitched(current.ID, next.ID)

	if err := c.gestures.Sleep(ctx, c.cfg.InterFilterDelay); err != nil {
		return err
	}
	if err := c.inspector.ActivateFilter(ctx, next); err != nil {
		return c.halt(ctx, session, fmt.Sprintf("cannot activate filter %s: %v", next.ID, err))
	}
	c.inspector.WaitForContentReady(ctx, c.cfg.ContentTimeout)
	return nil
}

// complete hands the accumulated records to the exporter and tears the
// session down. The terminal filter index is never persisted.
func (c *Controller) complete(ctx context.Context, session *schemas.ScrapeSession) error {
	records := session.Records
	c.logger.Info("Filter set exhausted", zap.Int("total_records", len(records)))

	if err := c.exporter.Export(ctx, records); err != nil {
		// Keep the session so the records survive; a later export request
		// can still serialize them.
		session.CurrentFilterIndex = len(c.filters) - 1
		session.Active = false
		_ = c.store.Save(ctx, session)
		return fmt.Errorf("completion export failed: %w", err)
	}

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear completed session", zap.Error(err))
	}
	c.notifier.Completed(len(records))
	return nil
}

// halt marks the session inactive, persists it and surfaces a terminal
// error. Accumulated records stay in the store.
func (c *Controller) halt(ctx context.Context, session *schemas.ScrapeSession, reason string) error {
	session.Active = false
	if err := c.store.Save(ctx, session); err != nil {
		c.logger.Error("Failed to persist halted session", zap.Error(err))
	}
	c.notifier.Halted(reason)
	return fmt.Errorf("%w: %s", ErrSessionHalted, reason)
}
