// Package doctree walks heterogeneous document trees (nested mappings and
// sequences of unknown shape) and yields string scalars together with
// their access paths. Traversal is bounded by an explicit depth counter
// and a set of excluded keys; substitution happens against the recorded
// paths after enumeration completes.
package doctree

import (
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/describo/internal/models"
)

// Locator enumerates string scalars in a document tree
type Locator struct {
	maxDepth int
	excluded map[string]struct{}
	logger   arbor.ILogger
}

// NewLocator creates a locator with a depth bound and excluded-key list.
// A key in excludedKeys skips the whole subtree below it.
func NewLocator(maxDepth int, excludedKeys []string, logger arbor.ILogger) *Locator {
	excluded := make(map[string]struct{}, len(excludedKeys))
	for _, k := range excludedKeys {
		excluded[k] = struct{}{}
	}
	return &Locator{
		maxDepth: maxDepth,
		excluded: excluded,
		logger:   logger,
	}
}

// Locate walks the document depth-first and returns every string scalar
// within the depth bound, paired with its access path. The result is
// fully materialized before return so callers can mutate the tree without
// racing the traversal. Non-string scalars are skipped silently; subtrees
// beyond the depth bound are dropped with a warning.
func (l *Locator) Locate(doc interface{}) []models.Located {
	var results []models.Located
	l.walk(doc, 0, nil, &results)
	return results
}

// walk descends one node. The depth bound applies on entry to containers
// only: string scalars inherit their container's admission, so a mapping
// at the bound still yields its direct string values.
func (l *Locator) walk(node interface{}, depth int, path models.Path, results *[]models.Located) {
	switch v := node.(type) {
	case map[string]interface{}:
		if l.exceeded(depth, path) {
			return
		}
		for _, key := range sortedKeys(v) {
			if _, skip := l.excluded[key]; skip {
				l.logger.Debug().
					Str("key", key).
					Str("path", path.String()).
					Msg("Skipping excluded key")
				continue
			}
			l.walk(v[key], depth+1, path.Append(models.KeySegment(key)), results)
		}

	case models.Document:
		l.walk(map[string]interface{}(v), depth, path, results)

	case []interface{}:
		if l.exceeded(depth, path) {
			return
		}
		for i, item := range v {
			l.walk(item, depth+1, path.Append(models.IndexSegment(i)), results)
		}

	case string:
		*results = append(*results, models.Located{Path: path, Value: v})

	default:
		// Non-string scalar, nothing to yield
	}
}

func (l *Locator) exceeded(depth int, path models.Path) bool {
	if depth <= l.maxDepth {
		return false
	}
	l.logger.Warn().
		Int("max_depth", l.maxDepth).
		Str("path", path.String()).
		Msg("Maximum traversal depth reached, subtree skipped")
	return true
}

// sortedKeys gives the traversal a stable order. Go map iteration is
// randomized; references must be resolved in a deterministic sequence so
// staging names and logs are reproducible across runs.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
