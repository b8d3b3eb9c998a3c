package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/driftdb-io/driftcache/internal/config"
	"github.com/driftdb-io/driftcache/internal/logging"
	"github.com/driftdb-io/driftcache/internal/lru"
	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
	"github.com/driftdb-io/driftcache/internal/store/pebbledb"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Handle version flag before subcommand parsing
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("driftcache version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Check for subcommand
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "stats":
		runStats(os.Args[2:])
	case "collect":
		runCollect(os.Args[2:])
	case "version":
		fmt.Printf("driftcache version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: driftcache <command> [options]

Commands:
  stats       Print cache statistics for a store directory
  collect     Run a single garbage collection pass
  version     Print version information

Run 'driftcache <command> --help' for more information on a command.`)
}

// loadConfig loads configuration from an optional file and applies the
// store path override shared by the subcommands.
func loadConfig(configPath, storePath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*pebbledb.Store, error) {
	return pebbledb.Open(pebbledb.Config{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	})
}

// noActiveTargets is the maintenance tool's target source. The tool runs
// against a store no sync layer has open, so nothing holds a target.
type noActiveTargets struct{}

func (noActiveTargets) ActiveTargetIDs() lru.ActiveTargets { return nil }

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	storePath := fs.String("store-path", "", "Override store directory")

	fs.Usage = func() {
		fmt.Println(`Usage: driftcache stats [options]

Print cache size, target count, and sequence number statistics.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, *storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	var (
		size    int64
		count   int64
		targets int64
		highest sequence.Number
	)
	err = st.RunTransaction(ctx, "stats", func(txn store.Txn) error {
		var err error
		if size, err = st.CacheSize(ctx, txn); err != nil {
			return err
		}
		if count, err = st.SequenceNumberCount(ctx, txn); err != nil {
			return err
		}
		if targets, err = st.TargetCount(txn); err != nil {
			return err
		}
		highest, err = st.HighestSequenceNumber(txn)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Cache size:               %d bytes\n", size)
	fmt.Printf("Targets:                  %d\n", targets)
	fmt.Printf("Tracked sequence numbers: %d\n", count)
	fmt.Printf("Highest sequence number:  %d\n", highest)
}

func runCollect(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	storePath := fs.String("store-path", "", "Override store directory")
	threshold := fs.Int64("threshold", 0, "Override cache size threshold in bytes (-1 disables collection)")
	percentile := fs.Int("percentile", 0, "Override percentage of sequence numbers to collect (0-100)")
	maxToCollect := fs.Int("max-sequence-numbers", 0, "Override collection cap for this pass")
	logLevel := fs.String("log-level", "", "Override log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Println(`Usage: driftcache collect [options]

Run a single garbage collection pass against a store directory and print
what it removed. A skipped pass (cache under threshold) is not an error.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, *storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Distinguish "flag left at default" from "flag set to the default
	// value"; -threshold -1 and -percentile 0 are both meaningful.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["threshold"] {
		cfg.GC.CacheSizeThresholdBytes = *threshold
	}
	if set["percentile"] {
		cfg.GC.PercentileToCollect = *percentile
	}
	if set["max-sequence-numbers"] {
		cfg.GC.MaximumSequenceNumbersToCollect = *maxToCollect
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		WithRun(uuid.New().String())

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	params := lru.Params{
		CacheSizeCollectionThreshold:    cfg.GC.CacheSizeThresholdBytes,
		PercentileToCollect:             cfg.GC.PercentileToCollect,
		MaximumSequenceNumbersToCollect: cfg.GC.MaximumSequenceNumbersToCollect,
	}
	gc := lru.NewGarbageCollector(st, params)
	scheduler := lru.NewScheduler(st, gc, noActiveTargets{},
		lru.DefaultSchedulerConfig(), lru.WithLogger(logger))

	start := time.Now()
	results, err := scheduler.RunOnce(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		logger.Errorf("collection pass failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	if !results.DidRun {
		fmt.Println("collection skipped (disabled or cache under threshold)")
		return
	}

	fmt.Printf("Sequence numbers collected: %d\n", results.SequenceNumbersCollected)
	fmt.Printf("Targets removed:            %d\n", results.TargetsRemoved)
	fmt.Printf("Documents removed:          %d\n", results.DocumentsRemoved)
	fmt.Printf("Duration:                   %s\n", elapsed.Round(time.Millisecond))
}
