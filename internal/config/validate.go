package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Browser.Backend != "rod" && cfg.Browser.Backend != "chromedp" {
		return fmt.Errorf("browser.backend must be 'rod' or 'chromedp', got %q", cfg.Browser.Backend)
	}
	if cfg.Browser.RemoteURL != "" {
		if _, err := url.Parse(cfg.Browser.RemoteURL); err != nil {
			return fmt.Errorf("invalid browser.remote_url %q: %w", cfg.Browser.RemoteURL, err)
		}
	}
	if cfg.Browser.RenderTimeout <= 0 {
		return fmt.Errorf("browser.render_timeout must be > 0")
	}
	if cfg.Browser.ScrollStep <= 0 {
		return fmt.Errorf("browser.scroll_step must be > 0, got %d", cfg.Browser.ScrollStep)
	}
	if cfg.Browser.MaxScrolls < 1 {
		return fmt.Errorf("browser.max_scrolls must be >= 1, got %d", cfg.Browser.MaxScrolls)
	}
	if cfg.Browser.MaxPages < 0 {
		return fmt.Errorf("browser.max_pages must be >= 0, got %d", cfg.Browser.MaxPages)
	}
	if cfg.Browser.NextSelector == "" {
		return fmt.Errorf("browser.next_selector must not be empty")
	}
	if _, err := regexp.Compile(cfg.Browser.CountPattern); err != nil {
		return fmt.Errorf("browser.count_pattern: %w", err)
	}

	c := cfg.Calibration
	if c.BandMin < 0 {
		return fmt.Errorf("calibration.band_min must be >= 0, got %d", c.BandMin)
	}
	if c.BandMin > c.BandMax {
		return fmt.Errorf("calibration.band_min (%d) must not exceed band_max (%d)", c.BandMin, c.BandMax)
	}
	step, err := c.MinStepPrice()
	if err != nil {
		return fmt.Errorf("calibration.min_step: %w", err)
	}
	if step <= 0 {
		return fmt.Errorf("calibration.min_step must be > 0, got %s", step)
	}
	upper, err := c.DefaultUpperPrice()
	if err != nil {
		return fmt.Errorf("calibration.default_upper: %w", err)
	}
	if upper <= 0 {
		return fmt.Errorf("calibration.default_upper must be > 0, got %s", upper)
	}
	if start, ok, err := c.StartPriceValue(); err != nil {
		return err
	} else if ok && start < 0 {
		return fmt.Errorf("calibration.start_price must be >= 0, got %s", start)
	}
	if c.MaxProbes < 3 {
		return fmt.Errorf("calibration.max_probes must be >= 3, got %d", c.MaxProbes)
	}
	if c.VerifyExact && c.MaxProbes < 4 {
		return fmt.Errorf("calibration.max_probes must be >= 4 with verify_exact, got %d", c.MaxProbes)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("calibration.max_items must be >= 0, got %d", c.MaxItems)
	}

	for name, p := range map[string]RetryPolicy{
		"probe":   cfg.Retry.Probe,
		"render":  cfg.Retry.Render,
		"window":  cfg.Retry.Window,
		"storage": cfg.Retry.Storage,
	} {
		if err := validatePolicy(name, p); err != nil {
			return err
		}
	}

	validBackends := map[string]bool{
		"mongodb": true, "postgres": true, "sqlite": true, "jsonl": true, "memory": true,
	}
	if !validBackends[cfg.Storage.Backend] {
		return fmt.Errorf("storage.backend %q is not supported (valid: mongodb, postgres, sqlite, jsonl, memory)", cfg.Storage.Backend)
	}
	switch cfg.Storage.Backend {
	case "mongodb", "postgres":
		if cfg.Storage.URI == "" {
			return fmt.Errorf("storage.uri is required for %s", cfg.Storage.Backend)
		}
	case "sqlite", "jsonl":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for %s", cfg.Storage.Backend)
		}
	}
	if cfg.Storage.Table == "" {
		return fmt.Errorf("storage.table must not be empty")
	}
	if cfg.Storage.SeenCacheSize < 1 {
		return fmt.Errorf("storage.seen_cache_size must be >= 1, got %d", cfg.Storage.SeenCacheSize)
	}
	if p := cfg.Storage.ExportPath; p != "" {
		if ext := filepath.Ext(p); ext != ".jsonl" && ext != ".csv" {
			return fmt.Errorf("storage.export_path must end in .jsonl or .csv, got %q", p)
		}
	}
	if cfg.Checkpoint.Enabled && cfg.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint.dir is required when checkpoints are enabled")
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}
	if cfg.API.MaxConcurrentRuns < 1 {
		return fmt.Errorf("api.max_concurrent_runs must be >= 1, got %d", cfg.API.MaxConcurrentRuns)
	}
	if cfg.API.DefaultStep < 1 || cfg.API.DefaultStep > cfg.API.DefaultMaxProducts {
		return fmt.Errorf("api.default_step (%d) must be >= 1 and not exceed api.default_max_products (%d)",
			cfg.API.DefaultStep, cfg.API.DefaultMaxProducts)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

func validatePolicy(name string, p RetryPolicy) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry.%s.max_attempts must be >= 1, got %d", name, p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.Timeout < 0 {
		return fmt.Errorf("retry.%s delays and timeout must be >= 0", name)
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("retry.%s.base_delay (%s) must not exceed max_delay (%s)", name, p.BaseDelay, p.MaxDelay)
	}
	return nil
}

// ValidateURL checks if a URL string is a usable catalog URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
