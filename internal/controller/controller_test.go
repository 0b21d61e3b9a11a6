package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/mocks"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

const (
	listingURL    = "https://www.amazon.com/product-reviews/B0TEST/?filterByStar=three_star&pageNumber=3"
	unfilteredURL = "https://www.amazon.com/product-reviews/B0TEST/"
)

// harness wires a controller to fully mocked collaborators.
type harness struct {
	inspector *mocks.MockInspector
	store     *mocks.MockSessionStore
	gestures  *mocks.MockGestures
	exporter  *mocks.MockExporter
	notifier  *mocks.MockNotifier
	ctrl      *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		inspector: new(mocks.MockInspector),
		store:     new(mocks.MockSessionStore),
		gestures:  new(mocks.MockGestures),
		exporter:  new(mocks.MockExporter),
		notifier:  new(mocks.MockNotifier),
	}
	cfg := config.ScrapeConfig{
		DelayMinMs:       10,
		DelayMaxMs:       20,
		TickInterval:     time.Second,
		ContentTimeout:   time.Second,
		InterFilterDelay: time.Millisecond,
	}
	h.ctrl = New(cfg, zap.NewNop(), h.inspector, h.store, h.gestures, h.exporter, h.notifier, observability.NewMetrics())
	h.ctrl.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return h
}

// quietPage sets up the probes every productive tick passes first.
func (h *harness) quietPage() {
	h.inspector.On("ChallengePresent", mock.Anything).Return(false, nil)
	h.inspector.On("ContentReady", mock.Anything).Return(true, nil)
}

func midSession(filterIndex, page int, records ...schemas.Review) *schemas.ScrapeSession {
	return &schemas.ScrapeSession{
		Active:             true,
		Records:            records,
		CurrentFilterIndex: filterIndex,
		CurrentPageIndex:   page,
		StartedAt:          1_699_999_000_000,
		LastUpdated:        1_699_999_500_000,
	}
}

func sampleReviews(filterID string, page, n int) []schemas.Review {
	reviews := make([]schemas.Review, n)
	for i := range reviews {
		reviews[i] = schemas.Review{
			ID:              "R" + filterID + string(rune('A'+i)),
			Author:          "Reviewer",
			BodyText:        "body",
			FilterPartition: filterID,
			PageIndex:       page,
		}
	}
	return reviews
}

func TestTick_FreshStart(t *testing.T) {
	// Empty store plus a start signal: the tick creates the session and
	// steers the unfiltered listing to the first partition without
	// extracting anything.
	h := newHarness(t)
	h.quietPage()

	h.store.On("Load", mock.Anything).Return(nil, false, nil)
	h.store.On("Save", mock.Anything, mock.Anything).Return(nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return(unfilteredURL, nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.StarFilter{}, false, nil)
	h.inspector.On("ActivateFilter", mock.Anything, schemas.DefaultFilterSet[0]).Return(nil)
	h.inspector.On("WaitForContentReady", mock.Anything, mock.Anything).Return(true)

	h.ctrl.RequestStart()
	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.inspector.AssertCalled(t, "ActivateFilter", mock.Anything, schemas.DefaultFilterSet[0])
	h.inspector.AssertNotCalled(t, "ExtractReviews", mock.Anything, mock.Anything, mock.Anything)

	saved := h.store.Calls[len(h.store.Calls)-1].Arguments.Get(1).(*schemas.ScrapeSession)
	assert.True(t, saved.Active)
	assert.Equal(t, 0, saved.CurrentFilterIndex)
	assert.Equal(t, 1, saved.CurrentPageIndex)
	assert.Empty(t, saved.Records)
}

func TestTick_NoSessionWithoutStartSignal(t *testing.T) {
	h := newHarness(t)
	h.quietPage()
	h.store.On("Load", mock.Anything).Return(nil, false, nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	h.inspector.AssertNotCalled(t, "IsReviewListing", mock.Anything)
}

func TestTick_MidPartitionExtraction(t *testing.T) {
	// Session at filter index 2, page listing shows the matching partition
	// with records; extraction appends and persists.
	h := newHarness(t)
	h.quietPage()

	session := midSession(2, 2)
	reviews := sampleReviews("3-star", 3, 7)

	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.store.On("Save", mock.Anything, session).Return(nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return(listingURL, nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.DefaultFilterSet[2], true, nil)
	h.inspector.On("CurrentPageNumber", mock.Anything).Return(3, nil).Once()
	h.inspector.On("ExtractReviews", mock.Anything, schemas.DefaultFilterSet[2], 3).Return(reviews, nil)
	h.notifier.On("Progress", "3-star", 3, 7, 7).Return()

	// A next page exists and the advance lands on page 4.
	h.inspector.On("HasNextPage", mock.Anything).Return(true, nil)
	h.gestures.On("NextDelay", 10*time.Millisecond, 20*time.Millisecond).Return(15 * time.Millisecond)
	h.notifier.On("WaitCountdown", 15*time.Millisecond).Return()
	h.gestures.On("ScrollTowardPager", mock.Anything).Return(nil)
	h.gestures.On("Sleep", mock.Anything, 15*time.Millisecond).Return(nil)
	h.inspector.On("AdvancePage", mock.Anything).Return(nil)
	h.inspector.On("WaitForContentReady", mock.Anything, mock.Anything).Return(true)
	h.inspector.On("CurrentPageNumber", mock.Anything).Return(4, nil).Once()

	require.NoError(t, h.ctrl.Tick(context.Background()))

	assert.Len(t, session.Records, 7)
	assert.Equal(t, 3, session.CurrentPageIndex)
	assert.Equal(t, 2, session.CurrentFilterIndex, "a successful advance must not switch filters")
	assert.Equal(t, listingURL, session.LastObservedURL)
	h.store.AssertCalled(t, "Save", mock.Anything, session)
	h.notifier.AssertExpectations(t)
}

func TestTick_StalledPagerFallsThroughToFilterSwitch(t *testing.T) {
	// The next control is clickable but the page number never moves: the
	// partition is treated as exhausted, no retry.
	h := newHarness(t)
	h.quietPage()

	session := midSession(2, 3)

	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.store.On("Save", mock.Anything, session).Return(nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return(listingURL, nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.DefaultFilterSet[2], true, nil)
	h.inspector.On("CurrentPageNumber", mock.Anything).Return(3, nil)
	h.inspector.On("ExtractReviews", mock.Anything, schemas.DefaultFilterSet[2], 3).Return(sampleReviews("3-star", 3, 2), nil)
	h.notifier.On("Progress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	h.inspector.On("HasNextPage", mock.Anything).Return(true, nil)
	h.gestures.On("NextDelay", mock.Anything, mock.Anything).Return(time.Millisecond)
	h.notifier.On("WaitCountdown", mock.Anything).Return()
	h.gestures.On("ScrollTowardPager", mock.Anything).Return(nil)
	h.gestures.On("Sleep", mock.Anything, mock.Anything).Return(nil)
	h.inspector.On("AdvancePage", mock.Anything).Return(nil)
	h.inspector.On("WaitForContentReady", mock.Anything, mock.Anything).Return(true)

	h.notifier.On("FilterSwitched", "3-star", "4-star").Return()
	h.inspector.On("ActivateFilter", mock.Anything, schemas.DefaultFilterSet[3]).Return(nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	assert.Equal(t, 3, session.CurrentFilterIndex)
	assert.Equal(t, 1, session.CurrentPageIndex, "page cursor must reset on every filter switch")
	h.notifier.AssertCalled(t, "FilterSwitched", "3-star", "4-star")
}

func TestTick_LastFilterExhaustedCompletes(t *testing.T) {
	// Index 4 with no next page: records go to the exporter once, the
	// session is cleared, and the terminal index is never persisted.
	h := newHarness(t)
	h.quietPage()

	carried := sampleReviews("1-star", 1, 3)
	session := midSession(4, 9, carried...)
	lastPage := sampleReviews("5-star", 9, 1)

	var savedIndexes []int
	h.store.On("Load", mock.Anything).Return(session, true, nil).Once()
	h.store.On("Save", mock.Anything, session).Run(func(args mock.Arguments) {
		savedIndexes = append(savedIndexes, args.Get(1).(*schemas.ScrapeSession).CurrentFilterIndex)
	}).Return(nil)
	h.store.On("Clear", mock.Anything).Return(nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return("https://www.amazon.com/product-reviews/B0TEST/?filterByStar=five_star&pageNumber=9", nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.DefaultFilterSet[4], true, nil)
	h.inspector.On("CurrentPageNumber", mock.Anything).Return(9, nil)
	h.inspector.On("ExtractReviews", mock.Anything, schemas.DefaultFilterSet[4], 9).Return(lastPage, nil)
	h.inspector.On("HasNextPage", mock.Anything).Return(false, nil)
	h.notifier.On("Progress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	h.notifier.On("Completed", 4).Return()
	h.exporter.On("Export", mock.Anything, mock.MatchedBy(func(records []schemas.Review) bool {
		return len(records) == 4
	})).Return(nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.exporter.AssertNumberOfCalls(t, "Export", 1)
	h.store.AssertCalled(t, "Clear", mock.Anything)
	h.notifier.AssertCalled(t, "Completed", 4)
	for _, index := range savedIndexes {
		assert.Less(t, index, len(schemas.DefaultFilterSet),
			"the exhausted index must never be persisted")
	}

	// The next tick sees an empty store and no armed start signal.
	h.store.On("Load", mock.Anything).Return(nil, false, nil).Once()
	require.NoError(t, h.ctrl.Tick(context.Background()))
	h.exporter.AssertNumberOfCalls(t, "Export", 1)
}

func TestTick_ChallengeFreezesState(t *testing.T) {
	h := newHarness(t)
	h.inspector.On("ChallengePresent", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return("https://www.amazon.com/errors/validateCaptcha", nil)
	h.notifier.On("ChallengeAlert", mock.Anything).Return()

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.store.AssertNotCalled(t, "Load", mock.Anything)
	h.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	h.notifier.AssertCalled(t, "ChallengeAlert", mock.Anything)
}

func TestTick_UnchangedAddressIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.quietPage()

	session := midSession(2, 3)
	session.LastObservedURL = listingURL

	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return(listingURL, nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	h.inspector.AssertNotCalled(t, "ExtractReviews", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 3, session.CurrentPageIndex)
	assert.Empty(t, session.Records)
}

func TestTick_DetailPageOpensListing(t *testing.T) {
	h := newHarness(t)
	h.quietPage()

	h.store.On("Load", mock.Anything).Return(midSession(0, 1), true, nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(false, nil)
	h.inspector.On("OpenAllReviews", mock.Anything).Return(nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.inspector.AssertCalled(t, "OpenAllReviews", mock.Anything)
	h.inspector.AssertNotCalled(t, "ExtractReviews", mock.Anything, mock.Anything, mock.Anything)
}

func TestTick_FilterActivationFailureHalts(t *testing.T) {
	// Exhausted activation strategies on a filter switch are terminal: the
	// session is deactivated and persisted, records retained.
	h := newHarness(t)
	h.quietPage()

	session := midSession(1, 5, sampleReviews("1-star", 1, 2)...)

	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.store.On("Save", mock.Anything, session).Return(nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return("https://www.amazon.com/product-reviews/B0TEST/?filterByStar=two_star&pageNumber=5", nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.DefaultFilterSet[1], true, nil)
	h.inspector.On("CurrentPageNumber", mock.Anything).Return(5, nil)
	h.inspector.On("ExtractReviews", mock.Anything, mock.Anything, mock.Anything).Return([]schemas.Review{}, nil)
	h.inspector.On("HasNextPage", mock.Anything).Return(false, nil)
	h.notifier.On("Progress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	h.notifier.On("FilterSwitched", "2-star", "3-star").Return()
	h.gestures.On("Sleep", mock.Anything, mock.Anything).Return(nil)
	h.inspector.On("ActivateFilter", mock.Anything, schemas.DefaultFilterSet[2]).Return(errors.New("no activation control found"))
	h.notifier.On("Halted", mock.Anything).Return()

	err := h.ctrl.Tick(context.Background())
	require.ErrorIs(t, err, ErrSessionHalted)

	assert.False(t, session.Active)
	assert.Len(t, session.Records, 2, "accumulated records survive a halt")
	h.notifier.AssertCalled(t, "Halted", mock.Anything)
}

func TestTick_StopSignalDeactivates(t *testing.T) {
	h := newHarness(t)
	h.quietPage()

	session := midSession(3, 2, sampleReviews("4-star", 1, 5)...)
	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.store.On("Save", mock.Anything, session).Return(nil)

	h.ctrl.RequestStop()
	require.NoError(t, h.ctrl.Tick(context.Background()))

	assert.False(t, session.Active)
	assert.Len(t, session.Records, 5)
	h.inspector.AssertNotCalled(t, "ExtractReviews", mock.Anything, mock.Anything, mock.Anything)

	// With the session inactive, subsequent ticks are pure no-ops.
	require.NoError(t, h.ctrl.Tick(context.Background()))
	h.inspector.AssertNotCalled(t, "IsReviewListing", mock.Anything)
}

func TestTick_StartSignalReactivatesInactiveSession(t *testing.T) {
	// A session parked by a stop or a halt resumes from its persisted
	// position when a fresh start signal arrives.
	h := newHarness(t)
	h.quietPage()

	session := midSession(1, 4, sampleReviews("2-star", 3, 2)...)
	session.Active = false
	h.store.On("Load", mock.Anything).Return(session, true, nil)

	// Without a start signal the parked session stays parked.
	require.NoError(t, h.ctrl.Tick(context.Background()))
	h.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	assert.False(t, session.Active)

	h.store.On("Save", mock.Anything, session).Return(nil)
	h.ctrl.RequestStart()
	require.NoError(t, h.ctrl.Tick(context.Background()))

	assert.True(t, session.Active)
	assert.Equal(t, 1, session.CurrentFilterIndex, "restart resumes, it does not rewind")
	assert.Equal(t, 4, session.CurrentPageIndex)
	assert.Len(t, session.Records, 2, "accumulated records carry over")
	h.store.AssertCalled(t, "Save", mock.Anything, session)
	h.inspector.AssertNotCalled(t, "ExtractReviews", mock.Anything, mock.Anything, mock.Anything)

	// The signal was consumed; the next tick scrapes instead of re-arming.
	h.inspector.On("IsReviewListing", mock.Anything).Return(false, nil)
	h.inspector.On("OpenAllReviews", mock.Anything).Return(nil)
	require.NoError(t, h.ctrl.Tick(context.Background()))
	h.inspector.AssertCalled(t, "OpenAllReviews", mock.Anything)
}

func TestTick_MismatchedSelectedFilterWaits(t *testing.T) {
	// A different partition is still selected (filter navigation in
	// flight): no activation, no extraction, wait for the page to settle.
	h := newHarness(t)
	h.quietPage()

	session := midSession(2, 1)
	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return("https://www.amazon.com/product-reviews/B0TEST/?filterByStar=two_star", nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.DefaultFilterSet[1], true, nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.inspector.AssertNotCalled(t, "ActivateFilter", mock.Anything, mock.Anything)
	h.inspector.AssertNotCalled(t, "ExtractReviews", mock.Anything, mock.Anything, mock.Anything)
	h.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestTick_PageNotReadyIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.inspector.On("ChallengePresent", mock.Anything).Return(false, nil)
	h.inspector.On("ContentReady", mock.Anything).Return(false, nil)

	require.NoError(t, h.ctrl.Tick(context.Background()))

	h.store.AssertNotCalled(t, "Load", mock.Anything)
}

func TestTick_ExportFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.quietPage()

	session := midSession(4, 2, sampleReviews("5-star", 1, 3)...)
	h.store.On("Load", mock.Anything).Return(session, true, nil)
	h.store.On("Save", mock.Anything, session).Return(nil)
	h.inspector.On("IsReviewListing", mock.Anything).Return(true, nil)
	h.inspector.On("CurrentURL", mock.Anything).Return("https://www.amazon.com/product-reviews/B0TEST/?filterByStar=five_star&pageNumber=2", nil)
	h.inspector.On("CurrentFilter", mock.Anything).Return(schemas.DefaultFilterSet[4], true, nil)
	h.inspector.On("CurrentPageNumber", mock.Anything).Return(2, nil)
	h.inspector.On("ExtractReviews", mock.Anything, mock.Anything, mock.Anything).Return([]schemas.Review{}, nil)
	h.inspector.On("HasNextPage", mock.Anything).Return(false, nil)
	h.notifier.On("Progress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	h.exporter.On("Export", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	err := h.ctrl.Tick(context.Background())
	require.Error(t, err)

	h.store.AssertNotCalled(t, "Clear", mock.Anything)
	assert.False(t, session.Active)
	assert.Equal(t, len(schemas.DefaultFilterSet)-1, session.CurrentFilterIndex,
		"persisted index must stay within the filter set")
	assert.Len(t, session.Records, 3)
}
