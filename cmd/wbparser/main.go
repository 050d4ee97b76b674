package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aleksandr071218/wb-parser/internal/api"
	"github.com/Aleksandr071218/wb-parser/internal/app"
	"github.com/Aleksandr071218/wb-parser/internal/catalog"
	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/engine"
	"github.com/Aleksandr071218/wb-parser/internal/jobs"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
)

var (
	cfgFile  string
	verbose  bool
	start    string
	upper    string
	bandMin  int
	bandMax  int
	minStep  string
	maxItems int
	store    string
	browser  string
	headless bool
	resume   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wbparser",
		Short: "wbparser: Wildberries catalog crawler",
		Long: `wbparser collects every product link of a catalog category.

The listing only shows a limited number of products per query, so the
crawler splits the price axis into consecutive windows whose result count
fits the listing, drains each window page by page and stores every new
article once.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url]",
		Short: "Crawl one catalog category",
		Long:  "Partition the category by price, walk every window and store the products found.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	cmd.Flags().StringVar(&start, "start", "", "first lower price bound in rubles (default: from the URL)")
	cmd.Flags().StringVar(&upper, "upper", "", "outer upper price bound in rubles (default: from the URL)")
	cmd.Flags().IntVar(&bandMin, "band-min", 0, "minimum item count of a window")
	cmd.Flags().IntVar(&bandMax, "band-max", 0, "maximum item count of a window")
	cmd.Flags().StringVar(&minStep, "min-step", "", "smallest price step in rubles, e.g. 0.10")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many inserted items (0 = unlimited)")
	cmd.Flags().StringVar(&store, "storage", "", "storage backend: mongodb, postgres, sqlite, jsonl, memory")
	cmd.Flags().StringVar(&browser, "backend", "", "browser backend: rod, chromedp")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")
	cmd.Flags().BoolVar(&resume, "resume", false, "checkpoint every window and resume from the last one saved for this URL")

	return cmd
}

// runCrawl executes the crawl command.
func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cmd, cfg)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ValidateURL(args[0]); err != nil {
		return fmt.Errorf("invalid URL %q: %w", args[0], err)
	}
	logger := setupLogger(cfg.Logging)

	target := engine.Target{URL: args[0], MaxItems: maxItems}
	if start != "" {
		p, err := catalog.ParsePrice(start)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		target.Start = &p
	}
	if upper != "" {
		p, err := catalog.ParsePrice(upper)
		if err != nil {
			return fmt.Errorf("--upper: %w", err)
		}
		target.Upper = &p
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(logger)
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	ctx, stop := signalContext(logger)
	defer stop()

	logger.Info("starting crawl",
		"url", target.URL,
		"band_min", cfg.Calibration.BandMin,
		"band_max", cfg.Calibration.BandMax,
		"browser", cfg.Browser.Backend,
		"storage", cfg.Storage.Backend,
		"checkpoints", cfg.Checkpoint.Enabled,
	)

	runner := app.NewRunner(cfg, metrics, logger)
	sum, err := runner.Run(ctx, target)
	if sum != nil {
		printSummary(sum)
	}
	return err
}

func printSummary(sum *engine.Summary) {
	fmt.Printf("\nCrawl %s in %s\n", sum.StateName, sum.Elapsed.Round(time.Millisecond))
	fmt.Printf("   Category:  %s\n", sum.Category)
	fmt.Printf("   Items:     %d inserted, %d existing, %d skipped, %d store errors\n",
		sum.Inserted, sum.Existing, sum.Skipped, sum.StoreErrors)
	fmt.Printf("   Windows:   %d (%d partial), %d pages\n", sum.Windows, sum.PartialWindows, sum.Pages)
	fmt.Printf("   Progress:  block %d, lower bound %s of %s\n", sum.BlockIndex, sum.CurrentLower, sum.OuterUpper)
	if sum.Error != "" {
		fmt.Printf("   Error:     %s\n", sum.Error)
	}
}

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task API",
		Long:  "Accept crawl submissions over HTTP (POST /parse) and report their status (GET /tasks/{id}).",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	var registry jobs.Registry = jobs.NewMemoryRegistry()
	if cfg.API.RegistryPath != "" {
		reg, err := jobs.NewSQLiteRegistry(cfg.API.RegistryPath)
		if err != nil {
			return fmt.Errorf("open task registry: %w", err)
		}
		registry = reg
	}
	defer registry.Close()

	metrics := observability.NewMetrics(logger)
	runner := app.NewRunner(cfg, metrics, logger)
	manager := jobs.NewManager(runner.RunJob, registry, cfg.API.MaxConcurrentRuns, logger)

	server := api.NewServer(cfg.API.Port, manager, api.Defaults{
		Step:        cfg.API.DefaultStep,
		MaxProducts: cfg.API.DefaultMaxProducts,
	}, metrics, logger)
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signalContext(logger)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wbparser %s\n", config.Version)
		},
	}
}

// configCmd prints the effective configuration as YAML.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. The run notices it at
// the next state boundary.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// setupLogger creates a structured logger.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	if bandMin > 0 {
		cfg.Calibration.BandMin = bandMin
	}
	if bandMax > 0 {
		cfg.Calibration.BandMax = bandMax
	}
	if minStep != "" {
		cfg.Calibration.MinStep = minStep
	}
	if store != "" {
		cfg.Storage.Backend = strings.ToLower(store)
	}
	if browser != "" {
		cfg.Browser.Backend = strings.ToLower(browser)
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if resume {
		cfg.Checkpoint.Enabled = true
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
}
