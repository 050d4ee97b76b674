package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults. CLI
// flags are applied on top by the caller.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("WBPARSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("wbparser")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".wbparser"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper so that every key can be
// overridden from the environment.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("browser.backend", cfg.Browser.Backend)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.remote_url", cfg.Browser.RemoteURL)
	v.SetDefault("browser.bin_path", cfg.Browser.BinPath)
	v.SetDefault("browser.user_agent", cfg.Browser.UserAgent)
	v.SetDefault("browser.render_timeout", cfg.Browser.RenderTimeout)
	v.SetDefault("browser.count_wait", cfg.Browser.CountWait)
	v.SetDefault("browser.scroll_step", cfg.Browser.ScrollStep)
	v.SetDefault("browser.scroll_interval", cfg.Browser.ScrollInterval)
	v.SetDefault("browser.bottom_tolerance", cfg.Browser.BottomTolerance)
	v.SetDefault("browser.settle_delay", cfg.Browser.SettleDelay)
	v.SetDefault("browser.max_scrolls", cfg.Browser.MaxScrolls)
	v.SetDefault("browser.max_pages", cfg.Browser.MaxPages)
	v.SetDefault("browser.next_selector", cfg.Browser.NextSelector)
	v.SetDefault("browser.count_xpaths", cfg.Browser.CountXPaths)
	v.SetDefault("browser.count_pattern", cfg.Browser.CountPattern)

	v.SetDefault("calibration.band_min", cfg.Calibration.BandMin)
	v.SetDefault("calibration.band_max", cfg.Calibration.BandMax)
	v.SetDefault("calibration.min_step", cfg.Calibration.MinStep)
	v.SetDefault("calibration.start_price", cfg.Calibration.StartPrice)
	v.SetDefault("calibration.default_upper", cfg.Calibration.DefaultUpper)
	v.SetDefault("calibration.max_probes", cfg.Calibration.MaxProbes)
	v.SetDefault("calibration.verify_exact", cfg.Calibration.VerifyExact)
	v.SetDefault("calibration.max_items", cfg.Calibration.MaxItems)

	for name, p := range map[string]RetryPolicy{
		"probe":   cfg.Retry.Probe,
		"render":  cfg.Retry.Render,
		"window":  cfg.Retry.Window,
		"storage": cfg.Retry.Storage,
	} {
		v.SetDefault("retry."+name+".max_attempts", p.MaxAttempts)
		v.SetDefault("retry."+name+".base_delay", p.BaseDelay)
		v.SetDefault("retry."+name+".max_delay", p.MaxDelay)
		v.SetDefault("retry."+name+".timeout", p.Timeout)
	}

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.uri", cfg.Storage.URI)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.table", cfg.Storage.Table)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.max_conns", cfg.Storage.MaxConns)
	v.SetDefault("storage.seen_cache_size", cfg.Storage.SeenCacheSize)
	v.SetDefault("storage.export_path", cfg.Storage.ExportPath)

	v.SetDefault("checkpoint.enabled", cfg.Checkpoint.Enabled)
	v.SetDefault("checkpoint.dir", cfg.Checkpoint.Dir)

	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.max_concurrent_runs", cfg.API.MaxConcurrentRuns)
	v.SetDefault("api.default_step", cfg.API.DefaultStep)
	v.SetDefault("api.default_max_products", cfg.API.DefaultMaxProducts)
	v.SetDefault("api.registry_path", cfg.API.RegistryPath)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
