// Package config holds the application's root configuration, loaded through
// Viper from a YAML file and ARS_-prefixed environment variables.
package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/humanoid"
	"github.com/duongtuanvn/Amazon-Review-Scraper/internal/observability"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   observability.LoggerConfig `mapstructure:"logger"`
	Postgres PostgresConfig             `mapstructure:"postgres"`
	Browser  BrowserConfig              `mapstructure:"browser"`
	Scrape   ScrapeConfig               `mapstructure:"scrape"`
	Metrics  MetricsConfig              `mapstructure:"metrics"`
	Export   ExportConfig               `mapstructure:"export"`
}

// PostgresConfig holds settings for the durable session tier.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool            `mapstructure:"headless"`
	IgnoreTLSErrors bool            `mapstructure:"ignore_tls_errors"`
	UserAgent       string          `mapstructure:"user_agent"`
	Args            []string        `mapstructure:"args"`
	Humanoid        humanoid.Config `mapstructure:"humanoid"`
}

// ScrapeConfig holds settings for the traversal controller.
type ScrapeConfig struct {
	// TargetURL is the product or review-listing page the session starts on.
	TargetURL string `mapstructure:"target_url"`

	// DelayMinMs/DelayMaxMs bound the randomized wait between page advances.
	DelayMinMs int `mapstructure:"delay_min_ms"`
	DelayMaxMs int `mapstructure:"delay_max_ms"`

	// TickInterval is how often the controller re-examines the page.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// ContentTimeout bounds the wait for review cards after a navigation.
	ContentTimeout time.Duration `mapstructure:"content_timeout"`

	// InterFilterDelay is the fixed pause before activating the next filter.
	InterFilterDelay time.Duration `mapstructure:"inter_filter_delay"`
}

// MetricsConfig holds settings for the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ExportConfig holds settings for CSV output.
type ExportConfig struct {
	OutputFile string `mapstructure:"output_file"`
}

// SetDefaults registers default values so the app can run with a minimal
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "review-scraper")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)

	v.SetDefault("scrape.delay_min_ms", 2000)
	v.SetDefault("scrape.delay_max_ms", 5000)
	v.SetDefault("scrape.tick_interval", time.Second)
	v.SetDefault("scrape.content_timeout", 10*time.Second)
	v.SetDefault("scrape.inter_filter_delay", 3*time.Second)

	v.SetDefault("export.output_file", "reviews.csv")
}

// Validate rejects configurations the scraper cannot run with. Advisory
// concerns (very small delays) are reported by Warnings instead.
func (c *Config) Validate() error {
	if c.Scrape.DelayMinMs < 0 || c.Scrape.DelayMaxMs < 0 {
		return fmt.Errorf("scrape delay bounds must be non-negative (min=%d, max=%d)", c.Scrape.DelayMinMs, c.Scrape.DelayMaxMs)
	}
	if c.Scrape.DelayMaxMs < c.Scrape.DelayMinMs {
		return fmt.Errorf("scrape.delay_max_ms (%d) must be >= scrape.delay_min_ms (%d)", c.Scrape.DelayMaxMs, c.Scrape.DelayMinMs)
	}
	if c.Scrape.TickInterval <= 0 {
		return fmt.Errorf("scrape.tick_interval must be positive, got %s", c.Scrape.TickInterval)
	}
	if c.Scrape.TargetURL != "" {
		if _, err := url.ParseRequestURI(c.Scrape.TargetURL); err != nil {
			return fmt.Errorf("invalid scrape.target_url: %w", err)
		}
	}
	return nil
}

// Warnings returns advisory findings about risky-but-permitted settings.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Scrape.DelayMinMs < 1000 {
		warnings = append(warnings, fmt.Sprintf(
			"scrape.delay_min_ms=%d is very aggressive; delays under 1000ms make the session easy to flag", c.Scrape.DelayMinMs))
	}
	return warnings
}

// Load unmarshals the Viper state into the configuration singleton.
func Load(v *viper.Viper) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	Set(&cfg)
	return nil
}

// Set replaces the configuration singleton. Exposed for the root command and
// for tests.
func Set(cfg *Config) {
	mu.Lock()
	instance = cfg
	mu.Unlock()
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Reset clears the singleton. Test helper.
func Reset() {
	mu.Lock()
	instance = nil
	mu.Unlock()
}
