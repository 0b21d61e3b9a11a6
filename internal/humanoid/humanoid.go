// Package humanoid provides the randomized timing and gesture primitives the
// scraper uses between navigating actions: the uniform inter-page delay
// policy, gaussian "cognitive" pauses, and a plausible incremental scroll
// toward the pagination controls.
package humanoid

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config tunes the gesture kinematics. Zero values are replaced with the
// defaults below by Normalize.
type Config struct {
	ScrollStepMinPx int     `mapstructure:"scroll_step_min_px"`
	ScrollStepMaxPx int     `mapstructure:"scroll_step_max_px"`
	ScrollMaxSteps  int     `mapstructure:"scroll_max_steps"`
	PauseMeanMs     float64 `mapstructure:"pause_mean_ms"`
	PauseStdDevMs   float64 `mapstructure:"pause_stddev_ms"`
	JitterAmplitude float64 `mapstructure:"jitter_amplitude"`
}

// Normalize fills unset fields with usable defaults.
func (c *Config) Normalize() {
	if c.ScrollStepMinPx <= 0 {
		c.ScrollStepMinPx = 240
	}
	if c.ScrollStepMaxPx <= c.ScrollStepMinPx {
		c.ScrollStepMaxPx = c.ScrollStepMinPx + 360
	}
	if c.ScrollMaxSteps <= 0 {
		c.ScrollMaxSteps = 12
	}
	if c.PauseMeanMs <= 0 {
		c.PauseMeanMs = 420
	}
	if c.PauseStdDevMs <= 0 {
		c.PauseStdDevMs = c.PauseMeanMs * 0.3
	}
	if c.JitterAmplitude <= 0 {
		c.JitterAmplitude = 40
	}
}

// Humanoid owns a dedicated RNG and a Perlin noise source so that gesture
// randomization is independent of any other randomness in the process.
type Humanoid struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	noise *perlin.Perlin
	step  float64 // monotonically advancing noise coordinate
}

// New creates a Humanoid seeded from the wall clock.
func New(cfg Config, logger *zap.Logger) *Humanoid {
	cfg.Normalize()
	seed := time.Now().UnixNano()
	return &Humanoid{
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		rng:    rand.New(rand.NewSource(seed)),
		noise:  perlin.NewPerlin(2.0, 2.0, 3, seed),
	}
}

// NextDelay implements the inter-page delay policy: a uniform random integer
// number of milliseconds in [min, max]. A min above max is swapped rather
// than rejected; the caller has already been warned about degenerate ranges
// at configuration time.
func (h *Humanoid) NextDelay(min, max time.Duration) time.Duration {
	if min > max {
		min, max = max, min
	}
	lo := min.Milliseconds()
	hi := max.Milliseconds()

	h.mu.Lock()
	ms := lo + h.rng.Int63n(hi-lo+1)
	h.mu.Unlock()

	return time.Duration(ms) * time.Millisecond
}

// Sleep waits for d, honoring context cancellation.
func (h *Humanoid) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CognitivePause sleeps for a gaussian-distributed interval around meanMs,
// clamped to stay positive.
func (h *Humanoid) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error {
	h.mu.Lock()
	ms := meanMs + h.rng.NormFloat64()*stdDevMs
	h.mu.Unlock()

	ms = math.Max(ms, meanMs*0.25)
	return h.Sleep(ctx, time.Duration(ms)*time.Millisecond)
}

// ScrollTowardPager scrolls the page downward in irregular increments until
// the pagination controls are near the viewport, imitating a reader skimming
// the remaining reviews. ctx must be a chromedp tab context.
func (h *Humanoid) ScrollTowardPager(ctx context.Context) error {
	for i := 0; i < h.cfg.ScrollMaxSteps; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		h.mu.Lock()
		base := h.cfg.ScrollStepMinPx + h.rng.Intn(h.cfg.ScrollStepMaxPx-h.cfg.ScrollStepMinPx+1)
		h.step += 0.17
		jitter := h.noise.Noise1D(h.step) * h.cfg.JitterAmplitude
		h.mu.Unlock()

		delta := float64(base) + jitter

		var atBottom bool
		script := fmt.Sprintf(
			`(() => { window.scrollBy(0, %0.f); return (window.innerHeight + window.scrollY) >= document.body.scrollHeight - 150; })()`,
			delta,
		)
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &atBottom)); err != nil {
			return fmt.Errorf("scroll step failed: %w", err)
		}
		if atBottom {
			h.logger.Debug("Scroll gesture reached page bottom", zap.Int("steps", i+1))
			return nil
		}

		if err := h.CognitivePause(ctx, h.cfg.PauseMeanMs, h.cfg.PauseStdDevMs); err != nil {
			return err
		}
	}
	h.logger.Debug("Scroll gesture hit step limit before page bottom")
	return nil
}
