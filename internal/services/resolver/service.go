// Package resolver orchestrates one resolution run: locate image
// references in a document, stage and normalize each asset, query the
// vision service, gate the answer on validity, and splice the accepted
// description back into the document. Failures are contained per
// reference; only contract violations and an empty reference set surface
// to the caller.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/interfaces"
	"github.com/ternarybob/describo/internal/models"
	"github.com/ternarybob/describo/internal/services/assets"
	"github.com/ternarybob/describo/internal/services/doctree"
)

// ErrNoReferences reports that the document held nothing to resolve:
// marker mode found no links at the configured path, or in-place mode
// matched no string in the tree.
var ErrNoReferences = errors.New("no image references found in document")

// Service resolves image references in documents. Resolution is
// sequential within a run: the vision session and the staging directory
// are shared state, so references are processed one at a time and each
// staged asset is removed before the next.
type Service struct {
	config    *common.Config
	logger    arbor.ILogger
	vision    interfaces.VisionService
	assets    *assets.Normalizer
	store     interfaces.DescriptionStore
	validator *Validator
	locator   *doctree.Locator
	matcher   *doctree.Matcher
}

// NewService creates a resolver service. The store is optional; pass nil
// to resolve without a description cache.
func NewService(cfg *common.Config, logger arbor.ILogger, vision interfaces.VisionService, normalizer *assets.Normalizer, store interfaces.DescriptionStore) (*Service, error) {
	matcher, err := doctree.NewMatcher(cfg.Resolver.ReferencePattern)
	if err != nil {
		return nil, err
	}

	if cfg.Resolver.ValidResponseKey != "" {
		logger.Info().
			Str("key", cfg.Resolver.ValidResponseKey).
			Msg("Validity check enabled")
	} else {
		logger.Info().Msg("Validity check disabled")
	}

	return &Service{
		config:    cfg,
		logger:    logger,
		vision:    vision,
		assets:    normalizer,
		store:     store,
		validator: NewValidator(cfg.Resolver.ValidResponseKey, logger),
		locator:   doctree.NewLocator(cfg.Resolver.MaxDepth, cfg.Resolver.ExcludedKeys, logger),
		matcher:   matcher,
	}, nil
}

// ProcessContent resolves a marker-mode document: references are read
// from the configured links path (an index -> URL mapping) and each
// accepted description replaces the {{index}} token inside the designated
// free-text field. The mutated text is returned and, when savePath is
// set, written out as-is.
func (s *Service) ProcessContent(ctx context.Context, doc models.Document, savePath string) (string, error) {
	links, err := s.imageLinks(doc)
	if err != nil {
		return "", err
	}

	fileKey := "default_key"
	if k, ok := doc["key"].(string); ok && k != "" {
		fileKey = k
	}

	content, _ := doctree.GetString(doc, s.config.Resolver.ContentTextPath)

	// Sorted so staging names and logs are reproducible across runs
	indexes := make([]string, 0, len(links))
	for index := range links {
		indexes = append(indexes, index)
	}
	sort.Strings(indexes)

	resolved := 0
	for _, index := range indexes {
		answer, ok, err := s.resolveReference(ctx, links[index], assets.StageName(fileKey, index))
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}

		token := "{{" + index + "}}"
		if !strings.Contains(content, token) {
			s.logger.Warn().
				Str("index", index).
				Msg("No marker token found for resolved reference")
			continue
		}
		content = strings.ReplaceAll(content, token, common.DescribePrefix+answer)
		resolved++
		s.logger.Info().
			Str("index", index).
			Msg("Replaced marker with content description")
	}

	s.logger.Info().
		Int("references", len(links)).
		Int("resolved", resolved).
		Msg("Marker-mode resolution completed")

	if savePath != "" {
		if err := WriteText(savePath, content); err != nil {
			return "", err
		}
		s.logger.Info().Str("path", savePath).Msg("Content saved")
	}

	return content, nil
}

// ProcessStrict resolves an in-place document: the tree locator and
// reference matcher find references anywhere in the tree, and each
// accepted description replaces the scalar at its recorded path. The
// document is mutated in place and, when savePath is set, serialized as
// indented JSON.
func (s *Service) ProcessStrict(ctx context.Context, doc models.Document, savePath string) (models.Document, error) {
	var references []models.Located
	for _, located := range s.locator.Locate(doc) {
		if s.matcher.IsReference(located.Value) {
			s.logger.Info().
				Str("path", located.Path.String()).
				Str("reference", located.Value).
				Msg("Found image reference")
			references = append(references, located)
		}
	}

	if len(references) == 0 {
		s.logger.Warn().Msg("No matching image references found in document")
		return nil, ErrNoReferences
	}

	// The same URL can appear at several paths; describe it once per run
	answers := make(map[string]string)

	resolved := 0
	for _, ref := range references {
		answer, seen := answers[ref.Value]
		if !seen {
			var ok bool
			var err error
			answer, ok, err = s.resolveReference(ctx, ref.Value, assets.StageNameForReference(ref.Value))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			answers[ref.Value] = answer
		}

		if err := s.setAnswer(doc, ref.Path, answer); err != nil {
			s.logger.Error().Err(err).
				Str("path", ref.Path.String()).
				Msg("Failed to substitute description")
			continue
		}
		resolved++
	}

	s.logger.Info().
		Int("references", len(references)).
		Int("resolved", resolved).
		Msg("In-place resolution completed")

	if savePath != "" {
		if err := WriteJSON(savePath, doc); err != nil {
			return nil, err
		}
		s.logger.Info().Str("path", savePath).Msg("Document saved")
	}

	return doc, nil
}

// resolveReference runs one reference through fetch, normalize, size
// gate, query, and validity check. ok=false means the reference was
// skipped; a non-nil error is a contract violation that aborts the run.
// The staged asset is removed on every exit path.
func (s *Service) resolveReference(ctx context.Context, reference, name string) (answer string, ok bool, err error) {
	asset, err := s.assets.FetchAndNormalize(ctx, reference, name)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("reference", reference).
			Msg("Failed to stage asset, skipping reference")
		return "", false, nil
	}
	defer s.assets.Cleanup(asset)

	minSize := int64(s.config.Resolver.MinSizeKB) * 1024
	if asset.Size < minSize {
		s.logger.Info().
			Str("reference", reference).
			Int64("size", asset.Size).
			Int64("min_size", minSize).
			Msg("Asset below minimum size, skipping reference")
		return "", false, nil
	}

	s.logger.Info().Str("path", asset.Path).Msg("Processing image")
	answer, err = s.describe(ctx, asset)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("reference", reference).
			Msg("Vision query failed, skipping reference")
		return "", false, nil
	}

	valid, err := s.validator.Validate(answer)
	if err != nil {
		return "", false, err
	}
	if !valid {
		s.logger.Info().
			Str("reference", reference).
			Msg("Skipped reference due to validity check")
		return "", false, nil
	}

	return answer, true, nil
}

// describe queries the vision service for one staged asset, with a cache
// short-circuit keyed by the asset's content hash when a store is
// configured. Store failures degrade to a remote call.
func (s *Service) describe(ctx context.Context, asset *models.LocalAsset) (string, error) {
	if s.store != nil {
		if desc, found := s.store.Get(asset.Hash); found {
			s.logger.Info().
				Str("reference", asset.Reference).
				Str("hash", asset.Hash).
				Msg("Using cached description")
			return desc.Answer, nil
		}
	}

	answer, err := s.vision.Describe(ctx, s.config.Resolver.Query, asset.Path)
	if err != nil {
		return "", err
	}

	if s.store != nil {
		desc := &models.Description{
			Hash:      asset.Hash,
			Reference: asset.Reference,
			Answer:    answer,
			Provider:  string(s.config.Vision.Provider),
			CreatedAt: time.Now(),
		}
		if err := s.store.Put(desc); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cache description")
		}
	}

	return answer, nil
}

// imageLinks reads the marker-mode index -> URL mapping from the
// configured two-level path.
func (s *Service) imageLinks(doc models.Document) (map[string]string, error) {
	path := make(models.Path, len(s.config.Resolver.ImageLinksPath))
	for i, key := range s.config.Resolver.ImageLinksPath {
		path[i] = models.KeySegment(key)
	}

	value, found := doctree.Get(doc, path)
	if !found {
		s.logger.Warn().
			Str("path", strings.Join(s.config.Resolver.ImageLinksPath, " -> ")).
			Msg("No image links found in document")
		return nil, ErrNoReferences
	}

	raw, isMap := value.(map[string]interface{})
	if !isMap || len(raw) == 0 {
		s.logger.Warn().
			Str("path", strings.Join(s.config.Resolver.ImageLinksPath, " -> ")).
			Msg("No image links found in document")
		return nil, ErrNoReferences
	}

	links := make(map[string]string, len(raw))
	for index, url := range raw {
		u, isString := url.(string)
		if !isString {
			s.logger.Warn().
				Str("index", index).
				Msg("Image link is not a string, skipping")
			continue
		}
		links[index] = u
	}
	if len(links) == 0 {
		return nil, ErrNoReferences
	}

	return links, nil
}

// setAnswer substitutes one accepted description at its recorded path
func (s *Service) setAnswer(doc models.Document, path models.Path, answer string) error {
	if err := doctree.Set(doc, path, answer); err != nil {
		return fmt.Errorf("substitution at %s failed: %w", path.String(), err)
	}
	return nil
}
