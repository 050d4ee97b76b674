package config

import (
	"fmt"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/catalog"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for wb-parser.
type Config struct {
	Browser     BrowserConfig     `mapstructure:"browser"     yaml:"browser"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	Retry       RetryConfig       `mapstructure:"retry"       yaml:"retry"`
	Storage     StorageConfig     `mapstructure:"storage"     yaml:"storage"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"  yaml:"checkpoint"`
	API         APIConfig         `mapstructure:"api"         yaml:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     yaml:"metrics"`
}

// BrowserConfig controls the rendering session.
type BrowserConfig struct {
	Backend         string        `mapstructure:"backend"          yaml:"backend"` // rod, chromedp
	Headless        bool          `mapstructure:"headless"         yaml:"headless"`
	RemoteURL       string        `mapstructure:"remote_url"       yaml:"remote_url"`
	BinPath         string        `mapstructure:"bin_path"         yaml:"bin_path"`
	UserAgent       string        `mapstructure:"user_agent"       yaml:"user_agent"`
	RenderTimeout   time.Duration `mapstructure:"render_timeout"   yaml:"render_timeout"`
	CountWait       time.Duration `mapstructure:"count_wait"       yaml:"count_wait"`
	ScrollStep      int           `mapstructure:"scroll_step"      yaml:"scroll_step"`
	ScrollInterval  time.Duration `mapstructure:"scroll_interval"  yaml:"scroll_interval"`
	BottomTolerance int           `mapstructure:"bottom_tolerance" yaml:"bottom_tolerance"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"     yaml:"settle_delay"`
	MaxScrolls      int           `mapstructure:"max_scrolls"      yaml:"max_scrolls"`
	MaxPages        int           `mapstructure:"max_pages"        yaml:"max_pages"`
	NextSelector    string        `mapstructure:"next_selector"    yaml:"next_selector"`
	CountXPaths     []string      `mapstructure:"count_xpaths"     yaml:"count_xpaths"`
	CountPattern    string        `mapstructure:"count_pattern"    yaml:"count_pattern"`
}

// CalibrationConfig controls the price window search. Prices are decimal
// ruble strings.
type CalibrationConfig struct {
	BandMin      int    `mapstructure:"band_min"      yaml:"band_min"`
	BandMax      int    `mapstructure:"band_max"      yaml:"band_max"`
	MinStep      string `mapstructure:"min_step"      yaml:"min_step"`
	StartPrice   string `mapstructure:"start_price"   yaml:"start_price"`
	DefaultUpper string `mapstructure:"default_upper" yaml:"default_upper"`
	MaxProbes    int    `mapstructure:"max_probes"    yaml:"max_probes"`
	VerifyExact  bool   `mapstructure:"verify_exact"  yaml:"verify_exact"`
	MaxItems     int    `mapstructure:"max_items"     yaml:"max_items"`
}

// MinStepPrice parses MinStep.
func (c CalibrationConfig) MinStepPrice() (catalog.Price, error) {
	return catalog.ParsePrice(c.MinStep)
}

// DefaultUpperPrice parses DefaultUpper.
func (c CalibrationConfig) DefaultUpperPrice() (catalog.Price, error) {
	if c.DefaultUpper == "" {
		return catalog.DefaultUpper, nil
	}
	return catalog.ParsePrice(c.DefaultUpper)
}

// StartPriceValue parses StartPrice. ok is false when no start price is set.
func (c CalibrationConfig) StartPriceValue() (p catalog.Price, ok bool, err error) {
	if c.StartPrice == "" {
		return 0, false, nil
	}
	p, err = catalog.ParsePrice(c.StartPrice)
	if err != nil {
		return 0, false, fmt.Errorf("calibration.start_price: %w", err)
	}
	return p, true, nil
}

// RetryConfig holds one policy per retried call site.
type RetryConfig struct {
	Probe   RetryPolicy `mapstructure:"probe"   yaml:"probe"`
	Render  RetryPolicy `mapstructure:"render"  yaml:"render"`
	Window  RetryPolicy `mapstructure:"window"  yaml:"window"`
	Storage RetryPolicy `mapstructure:"storage" yaml:"storage"`
}

// RetryPolicy is an exponential backoff schedule with a per-attempt timeout.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"   yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"    yaml:"max_delay"`
	Timeout     time.Duration `mapstructure:"timeout"      yaml:"timeout"`
}

// StorageConfig controls the durable product store.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"         yaml:"backend"` // mongodb, postgres, sqlite, jsonl, memory
	URI           string `mapstructure:"uri"             yaml:"uri"`
	Database      string `mapstructure:"database"        yaml:"database"`
	Table         string `mapstructure:"table"           yaml:"table"`
	Path          string `mapstructure:"path"            yaml:"path"`
	MaxConns      int    `mapstructure:"max_conns"       yaml:"max_conns"`
	SeenCacheSize int    `mapstructure:"seen_cache_size" yaml:"seen_cache_size"`
	ExportPath    string `mapstructure:"export_path"     yaml:"export_path"` // .jsonl or .csv copy of inserted rows
}

// CheckpointConfig controls resumable runs.
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir"     yaml:"dir"`
}

// APIConfig controls the run submission server.
type APIConfig struct {
	Port               int    `mapstructure:"port"                 yaml:"port"`
	MaxConcurrentRuns  int    `mapstructure:"max_concurrent_runs"  yaml:"max_concurrent_runs"`
	DefaultStep        int    `mapstructure:"default_step"         yaml:"default_step"`
	DefaultMaxProducts int    `mapstructure:"default_max_products" yaml:"default_max_products"`
	RegistryPath       string `mapstructure:"registry_path"        yaml:"registry_path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Backend:         "rod",
			Headless:        true,
			RenderTimeout:   30 * time.Second,
			CountWait:       10 * time.Second,
			ScrollStep:      450,
			ScrollInterval:  250 * time.Millisecond,
			BottomTolerance: 10,
			SettleDelay:     1 * time.Second,
			MaxScrolls:      400,
			NextSelector:    "//*[contains(@class,'pagination-next')]",
			CountXPaths: []string{
				"//h1/following-sibling::p[contains(@class, 'goods-count')]",
				"//div[contains(@class, 'catalog-title')]//span[contains(text(), 'товар')]",
				"//h1[contains(text(), 'товар')]",
			},
			CountPattern: `(\d[\d\s\x{00A0}\x{2009}\x{202F}]*)\s*товар`,
		},
		Calibration: CalibrationConfig{
			BandMin:      5000,
			BandMax:      6000,
			MinStep:      "0.10",
			DefaultUpper: "10000000",
			MaxProbes:    64,
		},
		Retry: RetryConfig{
			Probe:   RetryPolicy{MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second, Timeout: 45 * time.Second},
			Render:  RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, Timeout: 60 * time.Second},
			Window:  RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second},
			Storage: RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Timeout: 10 * time.Second},
		},
		Storage: StorageConfig{
			Backend:       "mongodb",
			URI:           "mongodb://localhost:27017",
			Database:      "wildberries",
			Table:         "wildberries_products_parsed",
			Path:          "./output/products.jsonl",
			MaxConns:      4,
			SeenCacheSize: 100_000,
		},
		Checkpoint: CheckpointConfig{
			Enabled: false,
			Dir:     "./output/checkpoints",
		},
		API: APIConfig{
			Port:               8000,
			MaxConcurrentRuns:  2,
			DefaultStep:        5000,
			DefaultMaxProducts: 6000,
			RegistryPath:       "./output/tasks.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
