// Package scheduler runs resolution over an input directory on a cron
// schedule: every document dropped into the watched directory is
// resolved and written to the output directory.
package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/services/resolver"
)

// Scheduler handles periodic directory resolution
type Scheduler struct {
	config  common.SchedulerConfig
	service *resolver.Service
	cron    *cron.Cron
	logger  arbor.ILogger
	strict  bool
}

// NewScheduler creates a watch-mode scheduler over the configured input
// directory. strict selects in-place resolution instead of marker mode.
func NewScheduler(config common.SchedulerConfig, service *resolver.Service, strict bool, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		config:  config,
		service: service,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		strict:  strict,
	}
}

// Start begins the scheduled resolution
func (s *Scheduler) Start() error {
	schedule := s.config.Schedule
	if schedule == "" {
		// Default: every 6 hours
		schedule = "0 0 */6 * * *"
	}

	if err := os.MkdirAll(s.config.OutputDir, 0755); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runResolution()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Str("input_dir", s.config.InputDir).
		Str("output_dir", s.config.OutputDir).
		Msg("Resolution scheduler started")

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Resolution scheduler stopped")
}

// RunNow triggers an immediate resolution run
func (s *Scheduler) RunNow() {
	s.logger.Info().Msg("Triggering immediate resolution run")
	go s.runResolution()
}

func (s *Scheduler) runResolution() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	s.logger.Info().Msg("Starting scheduled resolution")

	entries, err := os.ReadDir(s.config.InputDir)
	if err != nil {
		s.logger.Error().Err(err).
			Str("input_dir", s.config.InputDir).
			Msg("Failed to read input directory")
		return
	}

	processed := 0
	failed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isDocument(entry.Name()) {
			continue
		}

		inputPath := filepath.Join(s.config.InputDir, entry.Name())
		if err := s.resolveFile(ctx, inputPath, entry.Name()); err != nil {
			failed++
			continue
		}
		processed++
	}

	s.logger.Info().
		Int("processed", processed).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Scheduled resolution completed")
}

func (s *Scheduler) resolveFile(ctx context.Context, inputPath, name string) error {
	doc, err := resolver.LoadDocument(inputPath)
	if err != nil {
		s.logger.Error().Err(err).Str("path", inputPath).Msg("Failed to load document")
		return err
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))

	if s.strict {
		outputPath := filepath.Join(s.config.OutputDir, base+"_resolved.json")
		_, err = s.service.ProcessStrict(ctx, doc, outputPath)
	} else {
		outputPath := filepath.Join(s.config.OutputDir, base+"_resolved.txt")
		_, err = s.service.ProcessContent(ctx, doc, outputPath)
	}

	if err != nil {
		// A document with nothing to resolve is not a failure
		if errors.Is(err, resolver.ErrNoReferences) {
			s.logger.Info().Str("path", inputPath).Msg("No references in document, skipped")
			return nil
		}
		s.logger.Error().Err(err).Str("path", inputPath).Msg("Resolution failed")
		return err
	}
	return nil
}

func isDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
