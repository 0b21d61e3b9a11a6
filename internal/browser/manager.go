// Package browser owns the headless Chrome lifecycle and all read/interact
// access to the rendered review listing. The traversal controller never
// touches chromedp directly; it sees the page only through the Inspector.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/config"
)

// stealthScript runs before any page script and hides the most common
// automation tell.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// Manager manages the lifecycle of the browser process and the single
// scraping tab.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// ChromeDP allocator context manages the underlying browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	tabCtx    context.Context
	tabCancel context.CancelFunc
}

// NewManager creates and initializes the browser manager.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.generateAllocatorOptions()...)

	m.logger.Info("Browser manager initialized", zap.Bool("headless", cfg.Browser.Headless))
	return m
}

// generateAllocatorOptions configures the flags for the browser executable.
func (m *Manager) generateAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser
	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// Automation detection evasion.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability in containerized environments.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", browserCfg.Headless),

		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
	)

	if browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(browserCfg.UserAgent))
	}
	for _, arg := range browserCfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	return opts
}

// OpenTab starts the browser (on first use) and navigates the scraping tab
// to the target URL. The returned context is the chromedp tab context every
// Inspector call operates on.
func (m *Manager) OpenTab(targetURL string) (context.Context, error) {
	if m.tabCtx != nil {
		return m.tabCtx, nil
	}

	m.tabCtx, m.tabCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	err := chromedp.Run(m.tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(targetURL),
	)
	if err != nil {
		m.tabCancel()
		m.tabCtx = nil
		return nil, fmt.Errorf("failed to open scraping tab: %w", err)
	}

	m.logger.Info("Scraping tab opened", zap.String("url", targetURL))
	return m.tabCtx, nil
}

// Shutdown terminates the tab and the browser process.
func (m *Manager) Shutdown() {
	m.logger.Info("Shutting down browser manager...")
	if m.tabCancel != nil {
		m.tabCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
}
