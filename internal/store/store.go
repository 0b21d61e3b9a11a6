// Package store persists the single ScrapeSession across process restarts.
//
// Two tiers back the store: an in-process LRU cache giving the controller
// low-latency reads on its one-second poll, and a Postgres row that survives
// restarts. The durable tier is the source of truth whenever the fast tier
// is empty; durable writes happen in the background and their failures never
// abort the caller.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

// SessionKey is the fixed well-known key the one session record lives under
// in both tiers.
const SessionKey = "amazon_review_scrape_session"

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS scrape_sessions (
		key        TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
`

const upsertSQL = `
	INSERT INTO scrape_sessions (key, payload, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (key) DO UPDATE SET
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at;
`

const selectSQL = `SELECT payload FROM scrape_sessions WHERE key = $1;`

const deleteSQL = `DELETE FROM scrape_sessions WHERE key = $1;`

// DBPool abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// fastTier is the in-process cache. The LRU implementation cannot fail, but
// the seam lets tests exercise the degrade-to-durable path.
type fastTier interface {
	Get(key string) ([]byte, bool)
	Add(key string, payload []byte) error
	Remove(key string)
}

type lruTier struct {
	cache *lru.Cache[string, []byte]
}

func (t *lruTier) Get(key string) ([]byte, bool)        { return t.cache.Get(key) }
func (t *lruTier) Add(key string, payload []byte) error { t.cache.Add(key, payload); return nil }
func (t *lruTier) Remove(key string)                    { t.cache.Remove(key) }

// SessionStore implements load/save/clear over both tiers.
type SessionStore struct {
	pool    DBPool
	fast    fastTier
	log     *zap.Logger
	metrics *observability.Metrics

	// dbMu keeps background durable writes from interleaving. The controller
	// is the sole saver and ticks are seconds apart, so ordering follows.
	dbMu sync.Mutex
	wg   sync.WaitGroup
}

// New creates the store, verifies the database connection and ensures the
// session table exists. metrics may be nil for write-failure accounting to
// be skipped.
func New(ctx context.Context, pool DBPool, logger *zap.Logger, metrics *observability.Metrics) (*SessionStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure session table: %w", err)
	}

	cache, err := lru.New[string, []byte](4)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier: %w", err)
	}

	return &SessionStore{
		pool:    pool,
		fast:    &lruTier{cache: cache},
		log:     logger.Named("store"),
		metrics: metrics,
	}, nil
}

// recordWriteFailure bumps the per-tier failure counter when a metrics
// bundle is attached.
func (s *SessionStore) recordWriteFailure(tier string) {
	if s.metrics != nil {
		s.metrics.StoreWriteFailures.WithLabelValues(tier).Inc()
	}
}

// Load returns the persisted session, or (nil, false, nil) when neither tier
// holds one. A hit from the durable tier re-warms the fast tier.
func (s *SessionStore) Load(ctx context.Context) (*schemas.ScrapeSession, bool, error) {
	if payload, ok := s.fast.Get(SessionKey); ok {
		session, err := decode(payload)
		if err == nil {
			return session, true, nil
		}
		// A corrupt fast-tier entry is discarded; the durable tier decides.
		s.log.Warn("Discarding corrupt fast-tier session payload", zap.Error(err))
		s.fast.Remove(SessionKey)
	}

	var payload []byte
	err := s.pool.QueryRow(ctx, selectSQL, SessionKey).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session from durable tier: %w", err)
	}

	session, err := decode(payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode persisted session: %w", err)
	}

	if addErr := s.fast.Add(SessionKey, payload); addErr != nil {
		s.log.Warn("Failed to re-warm fast tier", zap.Error(addErr))
	}
	return session, true, nil
}

// Save stamps lastUpdated, writes the fast tier immediately and schedules a
// best-effort durable write. A fast-tier failure degrades to durable-only.
func (s *SessionStore) Save(ctx context.Context, session *schemas.ScrapeSession) error {
	session.LastUpdated = time.Now().UnixMilli()

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.fast.Add(SessionKey, payload); err != nil {
		s.recordWriteFailure("fast")
		s.log.Warn("Fast-tier write failed; relying on durable tier", zap.Error(err))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dbMu.Lock()
		defer s.dbMu.Unlock()

		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.pool.Exec(writeCtx, upsertSQL, SessionKey, payload, time.Now().UTC()); err != nil {
			s.recordWriteFailure("durable")
			s.log.Warn("Durable-tier write failed; next successful write reconciles", zap.Error(err))
		}
	}()
	return nil
}

// Clear removes the session from both tiers. Errors are advisory cleanup
// noise, not failures. Pending durable writes are drained first; a queued
// upsert landing after the delete would resurrect the session.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.fast.Remove(SessionKey)
	s.wg.Wait()

	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if _, err := s.pool.Exec(ctx, deleteSQL, SessionKey); err != nil {
		s.recordWriteFailure("durable")
		s.log.Warn("Failed to clear durable tier", zap.Error(err))
	}
	return nil
}

// Flush blocks until all scheduled durable writes have completed.
func (s *SessionStore) Flush() {
	s.wg.Wait()
}

func decode(payload []byte) (*schemas.ScrapeSession, error) {
	var session schemas.ScrapeSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}
