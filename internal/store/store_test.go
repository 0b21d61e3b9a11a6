package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

// failingFastTier always rejects writes, forcing the durable-only path.
type failingFastTier struct{}

func (failingFastTier) Get(string) ([]byte, bool) { return nil, false }
func (failingFastTier) Add(string, []byte) error  { return errors.New("fast tier unavailable") }
func (failingFastTier) Remove(string)             {}

func newMockedStore(t *testing.T) (*SessionStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scrape_sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s, err := New(context.Background(), mockPool, zap.NewNop(), observability.NewMetrics())
	require.NoError(t, err)
	return s, mockPool
}

func TestNew(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the session table", func(t *testing.T) {
		_, mockPool := newMockedStore(t)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("should stamp lastUpdated and upsert the durable tier", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO scrape_sessions")).
			WithArgs(SessionKey, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		session := schemas.NewScrapeSession(0)
		session.LastUpdated = 0
		require.NoError(t, s.Save(ctx, session))
		s.Flush()

		assert.Greater(t, session.LastUpdated, int64(0), "Save must stamp lastUpdated")
		assert.NoError(t, mockPool.ExpectationsWereMet())

		// The fast tier now answers loads without touching the database.
		loaded, ok, err := s.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, session.LastUpdated, loaded.LastUpdated)
	})

	t.Run("should not abort when the durable write fails", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO scrape_sessions")).
			WithArgs(SessionKey, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		require.NoError(t, s.Save(ctx, schemas.NewScrapeSession(1)))
		s.Flush()
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.StoreWriteFailures.WithLabelValues("durable")))
	})

	t.Run("should degrade to durable-only when the fast tier fails", func(t *testing.T) {
		s, mockPool := newMockedStore(t)
		s.fast = failingFastTier{}

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO scrape_sessions")).
			WithArgs(SessionKey, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Save(ctx, schemas.NewScrapeSession(1)))
		s.Flush()
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.StoreWriteFailures.WithLabelValues("fast")))
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("should report absence when both tiers are empty", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnError(pgx.ErrNoRows)

		session, ok, err := s.Load(ctx)
		require.NoError(t, err, "an absent session is not an error")
		assert.False(t, ok)
		assert.Nil(t, session)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fall back to the durable tier on a fast miss", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		session := schemas.NewScrapeSession(42)
		session.Records = append(session.Records, schemas.Review{ID: "R1", BodyText: "ok"})
		payload, err := json.Marshal(session)
		require.NoError(t, err)

		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		loaded, ok, err := s.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, *session, *loaded)
		assert.NoError(t, mockPool.ExpectationsWereMet())

		// The durable hit re-warmed the fast tier: a second load issues no query.
		again, ok, err := s.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, *session, *again)
	})

	t.Run("should surface durable tier read failures", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		readErr := errors.New("connection refused")
		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnError(readErr)

		_, ok, err := s.Load(ctx)
		require.Error(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, err, readErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	t.Run("should remove the session from both tiers", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO scrape_sessions")).
			WithArgs(SessionKey, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, s.Save(ctx, schemas.NewScrapeSession(1)))
		s.Flush()

		mockPool.ExpectExec(regexp.QuoteMeta("DELETE FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, s.Clear(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())

		// Fast tier is gone; the next load consults the durable tier.
		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnError(errors.New("boom"))
		_, _, err := s.Load(ctx)
		require.Error(t, err)
	})

	t.Run("should drain pending durable writes before deleting", func(t *testing.T) {
		// A queued upsert landing after the delete would resurrect the
		// session in Postgres; the ordered expectations fail if the delete
		// ever overtakes the write.
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO scrape_sessions")).
			WithArgs(SessionKey, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(regexp.QuoteMeta("DELETE FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		// No Flush between Save and Clear: the upsert is still queued when
		// the delete is requested.
		require.NoError(t, s.Save(ctx, schemas.NewScrapeSession(1)))
		require.NoError(t, s.Clear(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())

		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnError(pgx.ErrNoRows)
		_, ok, err := s.Load(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "the session must stay cleared after completion")
	})

	t.Run("should swallow durable tier errors", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta("DELETE FROM scrape_sessions")).
			WithArgs(SessionKey).
			WillReturnError(errors.New("timeout"))

		assert.NoError(t, s.Clear(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
