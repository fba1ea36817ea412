package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/interfaces"
	"github.com/ternarybob/describo/internal/services/assets"
	"github.com/ternarybob/describo/internal/services/cache"
	"github.com/ternarybob/describo/internal/services/resolver"
	"github.com/ternarybob/describo/internal/services/scheduler"
	"github.com/ternarybob/describo/internal/services/vision"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	inputPath    = flag.String("input", "", "Input document path (JSON or YAML)")
	outputPath   = flag.String("output", "", "Output path (default: derived from input)")
	strictMode   = flag.Bool("strict", false, "Resolve references in place instead of marker mode")
	watchMode    = flag.Bool("watch", false, "Run on a schedule over the configured input directory")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Describo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("describo.toml"); err == nil {
			configFiles = append(configFiles, "describo.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}

	if *watchMode {
		config.Scheduler.Enabled = true
	}

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	runID := common.NewRunID()
	logger.Info().
		Str("run_id", runID).
		Str("version", common.GetFullVersion()).
		Str("environment", config.Environment).
		Msg("Describo starting")

	if err := run(); err != nil {
		logger.Fatal().Err(err).Msg("Resolution failed")
		os.Exit(1)
	}
}

func run() error {
	normalizer, err := assets.NewNormalizer(config.Assets, logger)
	if err != nil {
		return err
	}

	visionService, err := vision.NewVisionService(config, logger)
	if err != nil {
		return err
	}
	defer visionService.Close()

	var store interfaces.DescriptionStore
	if config.Cache.Enabled {
		store, err = cache.NewService(config.Cache, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	service, err := resolver.NewService(config, logger, visionService, normalizer, store)
	if err != nil {
		return err
	}

	if config.Scheduler.Enabled {
		return runScheduled(service)
	}
	return runOnce(service)
}

// runOnce resolves a single document and exits
func runOnce(service *resolver.Service) error {
	if *inputPath == "" {
		return fmt.Errorf("no input document specified (use -input or enable the scheduler)")
	}

	doc, err := resolver.LoadDocument(*inputPath)
	if err != nil {
		return err
	}

	savePath := *outputPath
	if savePath == "" {
		savePath = defaultOutputPath(*inputPath, *strictMode)
	}

	ctx := context.Background()
	if *strictMode {
		_, err = service.ProcessStrict(ctx, doc, savePath)
	} else {
		_, err = service.ProcessContent(ctx, doc, savePath)
	}

	if errors.Is(err, resolver.ErrNoReferences) {
		logger.Warn().Str("input", *inputPath).Msg("Document contains no image references")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("input", *inputPath).
		Str("output", savePath).
		Msg("Resolution completed")
	return nil
}

// runScheduled starts watch mode and blocks until interrupted
func runScheduled(service *resolver.Service) error {
	sched := scheduler.NewScheduler(config.Scheduler, service, *strictMode, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	return nil
}

func defaultOutputPath(input string, strict bool) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	if strict {
		return base + "_resolved.json"
	}
	return base + "_resolved.txt"
}
