// Package cache stores vision answers keyed by asset content hash so a
// re-run over the same images skips the remote calls.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/interfaces"
	"github.com/ternarybob/describo/internal/models"
)

// Service is a Badger-backed description store. Lookups and stores
// degrade gracefully: a read failure is a miss, a write failure is
// logged by the caller and the run continues.
type Service struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	ttl    time.Duration
}

// NewService opens the description cache at the configured path
func NewService(config common.CacheConfig, logger arbor.ILogger) (interfaces.DescriptionStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	logger.Debug().
		Str("path", config.Path).
		Int("ttl_hours", config.TTLHours).
		Msg("Description cache initialized")

	return &Service{
		store:  store,
		logger: logger,
		ttl:    time.Duration(config.TTLHours) * time.Hour,
	}, nil
}

// Get returns the cached description for hash when present and still
// inside the freshness window. Stale entries are treated as misses and
// removed opportunistically.
func (s *Service) Get(hash string) (*models.Description, bool) {
	var desc models.Description
	if err := s.store.Get(hash, &desc); err != nil {
		if err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("hash", hash).Msg("Cache lookup failed")
		}
		return nil, false
	}

	if s.ttl > 0 && time.Since(desc.CreatedAt) > s.ttl {
		s.logger.Debug().
			Str("hash", hash).
			Str("created_at", desc.CreatedAt.Format(time.RFC3339)).
			Msg("Cached description expired")
		if err := s.store.Delete(hash, &models.Description{}); err != nil {
			s.logger.Warn().Err(err).Str("hash", hash).Msg("Failed to evict expired description")
		}
		return nil, false
	}

	return &desc, true
}

// Put stores one description, replacing any previous entry for the hash
func (s *Service) Put(desc *models.Description) error {
	if desc.Hash == "" {
		return fmt.Errorf("description hash is required")
	}
	if desc.CreatedAt.IsZero() {
		desc.CreatedAt = time.Now()
	}

	if err := s.store.Upsert(desc.Hash, desc); err != nil {
		return fmt.Errorf("failed to cache description: %w", err)
	}
	return nil
}

// Close closes the cache database
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
