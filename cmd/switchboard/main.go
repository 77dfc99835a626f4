package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aschepis/switchboard/backend"
	"github.com/aschepis/switchboard/config"
	"github.com/aschepis/switchboard/dispatch"
	"github.com/aschepis/switchboard/experiment"
	sblogger "github.com/aschepis/switchboard/logger"
	"github.com/aschepis/switchboard/migrations"
	"github.com/aschepis/switchboard/outcomes"
	"github.com/aschepis/switchboard/runtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		prompt     = flag.String("prompt", "", "Prompt text to dispatch (required)")
		system     = flag.String("system", "", "Optional system/instruction text")
		variant    = flag.String("variant", "", "Preferred variant id (default: experiment-driven selection)")
		compare    = flag.String("compare", "", "Comma-separated variant ids to run the prompt against in parallel")
		fallback   = flag.String("fallback", "", "Fallback variant id on transport failure")
		timeout    = flag.Int("timeout", 0, "Per-call timeout in seconds (default: from config)")
		retries    = flag.Uint64("retries", 0, "Retry budget on transport failure (default: no retries)")
		configPath = flag.String("config", "", "Path to config file (default: SWITCHBOARD_CONFIG_PATH or ~/.switchboard/config.yaml)")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath     = flag.String("db", "", "Path to SQLite database file (default: from config)")
	)
	flag.Parse()

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	if *prompt == "" {
		return fmt.Errorf("--prompt is required")
	}

	// Initialize logger with options
	logger, err := sblogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Load configuration
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	appConfig, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(appConfig.Variants) == 0 {
		return fmt.Errorf("no variants configured in %q", cfgPath)
	}
	logger.Info().Str("config", cfgPath).Int("variants", len(appConfig.Variants)).Msg("switchboard starting")

	// ---------------------------
	// 1. Open SQLite + Snapshot Store
	// ---------------------------

	databasePath := *dbPath
	if databasePath == "" {
		databasePath = appConfig.Database.Path
	}
	db, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, appConfig.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	store := outcomes.NewStore(db)

	// ---------------------------
	// 2. Build Catalog, Backends, Tracker
	// ---------------------------

	cat := config.BuildCatalog(appConfig)
	backends, err := config.BuildBackends(appConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to build backends: %w", err)
	}

	tracker := experiment.NewTracker(appConfig.DefaultVariant, logger)
	for _, expCfg := range appConfig.Experiments {
		if err := tracker.Create(expCfg); err != nil {
			return fmt.Errorf("invalid experiment %q: %w", expCfg.ID, err)
		}
	}

	// ---------------------------
	// 3. Create Dispatcher
	// ---------------------------

	defaultTimeout := time.Duration(appConfig.Dispatch.Timeout) * time.Second
	dispatcher := dispatch.New(cat, tracker, defaultTimeout, logger)
	for id, b := range backends {
		dispatcher.RegisterBackend(id, b)
	}

	// ---------------------------
	// 4. Dispatch
	// ---------------------------

	// Cancel in-flight calls on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := dispatch.Options{
		Variant:  *variant,
		Fallback: *fallback,
	}
	if opts.Fallback == "" {
		opts.Fallback = appConfig.Dispatch.Fallback
	}
	if *timeout > 0 {
		opts.Timeout = time.Duration(*timeout) * time.Second
	}

	req := &backend.Request{
		Prompt: *prompt,
		System: *system,
	}

	var exitErr error
	if *compare != "" {
		exitErr = runCompare(ctx, dispatcher, req, strings.Split(*compare, ","), opts)
	} else {
		exitErr = runSingle(ctx, dispatcher, req, opts, *retries)
	}

	// ---------------------------
	// 5. Checkpoint Experiments
	// ---------------------------

	sweeper, err := runtime.NewSweeper(tracker, store, "", logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	sweeper.Sweep(context.Background())

	logger.Info().Msg("switchboard done")
	return exitErr
}

// runSingle dispatches the prompt once and prints the output.
func runSingle(ctx context.Context, dispatcher *dispatch.Dispatcher, req *backend.Request, opts dispatch.Options, retries uint64) error {
	var resp *backend.Response
	if retries > 0 {
		resp = dispatcher.DispatchWithRetry(ctx, req, opts, dispatch.RetryOptions{MaxRetries: retries})
	} else {
		resp = dispatcher.Dispatch(ctx, req, opts)
	}

	if !resp.Succeeded() {
		return fmt.Errorf("dispatch via %q failed: %s", resp.Variant, resp.Error)
	}

	fmt.Println(resp.Output)
	fmt.Fprintf(os.Stderr, "[%s in %s", resp.Variant, resp.Duration.Round(time.Millisecond))
	if cost := resp.Metadata[dispatch.MetaEstimatedCost]; cost != "" {
		fmt.Fprintf(os.Stderr, ", ~$%s", cost)
	}
	fmt.Fprintln(os.Stderr, "]")
	return nil
}

// runCompare dispatches the prompt to every listed variant in parallel and
// prints each result.
func runCompare(ctx context.Context, dispatcher *dispatch.Dispatcher, req *backend.Request, variantIDs []string, opts dispatch.Options) error {
	for i := range variantIDs {
		variantIDs[i] = strings.TrimSpace(variantIDs[i])
	}

	results, err := dispatcher.MultiShot(ctx, req, variantIDs, opts)
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}

	failures := 0
	for _, id := range variantIDs {
		resp := results[id]
		fmt.Printf("=== %s (%s) ===\n", id, resp.Duration.Round(time.Millisecond))
		if resp.Succeeded() {
			fmt.Println(resp.Output)
		} else {
			failures++
			fmt.Printf("error: %s\n", resp.Error)
		}
		fmt.Println()
	}

	if failures == len(variantIDs) {
		return fmt.Errorf("all %d variants failed", failures)
	}
	return nil
}
