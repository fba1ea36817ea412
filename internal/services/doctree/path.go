package doctree

import (
	"fmt"

	"github.com/ternarybob/describo/internal/models"
)

// Get returns the value at path, or false when any segment is missing or
// typed differently than the path expects.
func Get(doc interface{}, path models.Path) (interface{}, bool) {
	current := normalize(doc)
	for _, seg := range path {
		if seg.IsIndex {
			seq, ok := current.([]interface{})
			if !ok || seg.Index < 0 || seg.Index >= len(seq) {
				return nil, false
			}
			current = normalize(seq[seg.Index])
			continue
		}

		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, exists := m[seg.Key]
		if !exists {
			return nil, false
		}
		current = normalize(value)
	}
	return current, true
}

// Set replaces the value at path in place. The path must have been
// produced by a traversal of the same, unmutated tree.
func Set(doc interface{}, path models.Path, value interface{}) error {
	if len(path) == 0 {
		return fmt.Errorf("cannot set empty path")
	}

	parent, ok := Get(doc, path[:len(path)-1])
	if !ok {
		return fmt.Errorf("path %s not found in document", path.String())
	}

	last := path[len(path)-1]
	if last.IsIndex {
		seq, ok := parent.([]interface{})
		if !ok {
			return fmt.Errorf("path %s does not terminate in a sequence", path.String())
		}
		if last.Index < 0 || last.Index >= len(seq) {
			return fmt.Errorf("index %d out of range at path %s", last.Index, path.String())
		}
		seq[last.Index] = value
		return nil
	}

	m, ok := parent.(map[string]interface{})
	if !ok {
		return fmt.Errorf("path %s does not terminate in a mapping", path.String())
	}
	if _, exists := m[last.Key]; !exists {
		return fmt.Errorf("key %q not found at path %s", last.Key, path.String())
	}
	m[last.Key] = value
	return nil
}

// GetString fetches a string scalar at a key path rooted at the document
// top. Used for configured two-level locations like page_info ->
// content_text.
func GetString(doc models.Document, keys []string) (string, bool) {
	path := make(models.Path, len(keys))
	for i, k := range keys {
		path[i] = models.KeySegment(k)
	}
	value, ok := Get(doc, path)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SetString writes a string scalar at a key path rooted at the document top
func SetString(doc models.Document, keys []string, value string) error {
	path := make(models.Path, len(keys))
	for i, k := range keys {
		path[i] = models.KeySegment(k)
	}
	return Set(doc, path, value)
}

// normalize folds the Document alias back to its underlying map so path
// operations see one mapping type.
func normalize(v interface{}) interface{} {
	if d, ok := v.(models.Document); ok {
		return map[string]interface{}(d)
	}
	return v
}
