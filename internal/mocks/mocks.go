// Package mocks provides testify mocks for the controller's collaborator
// interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
)

// -- Page Inspector Mock --

// MockInspector mocks the controller.PageInspector interface.
type MockInspector struct {
	mock.Mock
}

func (m *MockInspector) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockInspector) CurrentFilter(ctx context.Context) (schemas.StarFilter, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.StarFilter), args.Bool(1), args.Error(2)
}

func (m *MockInspector) CurrentPageNumber(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockInspector) IsReviewListing(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockInspector) OpenAllReviews(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockInspector) HasNextPage(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockInspector) ChallengePresent(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockInspector) ContentReady(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockInspector) WaitForContentReady(ctx context.Context, timeout time.Duration) bool {
	return m.Called(ctx, timeout).Bool(0)
}

func (m *MockInspector) ActivateFilter(ctx context.Context, filter schemas.StarFilter) error {
	return m.Called(ctx, filter).Error(0)
}

func (m *MockInspector) AdvancePage(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockInspector) ExtractReviews(ctx context.Context, filter schemas.StarFilter, pageIndex int) ([]schemas.Review, error) {
	args := m.Called(ctx, filter, pageIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Review), args.Error(1)
}

// -- Session Store Mock --

// MockSessionStore mocks the controller.SessionStore interface.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Load(ctx context.Context) (*schemas.ScrapeSession, bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*schemas.ScrapeSession), args.Bool(1), args.Error(2)
}

func (m *MockSessionStore) Save(ctx context.Context, session *schemas.ScrapeSession) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockSessionStore) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Gesture Policy Mock --

// MockGestures mocks the controller.GesturePolicy interface.
type MockGestures struct {
	mock.Mock
}

func (m *MockGestures) NextDelay(min, max time.Duration) time.Duration {
	return m.Called(min, max).Get(0).(time.Duration)
}

func (m *MockGestures) Sleep(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockGestures) ScrollTowardPager(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Exporter Mock --

// MockExporter mocks the controller.Exporter interface.
type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Export(ctx context.Context, records []schemas.Review) error {
	return m.Called(ctx, records).Error(0)
}

// -- Notifier Mock --

// MockNotifier mocks the controller.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Progress(filterID string, page, batchSize, totalRecords int) {
	m.Called(filterID, page, batchSize, totalRecords)
}

func (m *MockNotifier) WaitCountdown(d time.Duration) {
	m.Called(d)
}

func (m *MockNotifier) ChallengeAlert(location string) {
	m.Called(location)
}

func (m *MockNotifier) FilterSwitched(fromID, toID string) {
	m.Called(fromID, toID)
}

func (m *MockNotifier) Completed(totalRecords int) {
	m.Called(totalRecords)
}

func (m *MockNotifier) Halted(reason string) {
	m.Called(reason)
}
