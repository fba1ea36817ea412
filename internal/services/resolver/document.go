package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/describo/internal/models"
)

// LoadDocument reads and decodes an input document. The format is picked
// by extension: .yaml/.yml parse as YAML, everything else as JSON. YAML
// trees are normalized so nested mappings use string keys like the JSON
// decoder produces.
func LoadDocument(path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML document %s: %w", path, err)
		}
		return models.Document(normalizeTree(raw).(map[string]interface{})), nil
	default:
		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON document %s: %w", path, err)
		}
		return doc, nil
	}
}

// WriteText writes marker-mode output as free-form text
func WriteText(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write output %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes in-place-mode output as indented JSON
func WriteJSON(path string, doc models.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output %s: %w", path, err)
	}
	return nil
}

// normalizeTree rewrites YAML's map[interface{}]interface{} nodes into
// map[string]interface{} so the locator and path operations see a single
// mapping shape regardless of input format.
func normalizeTree(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, value := range v {
			v[key] = normalizeTree(value)
		}
		return v
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for key, value := range v {
			m[fmt.Sprintf("%v", key)] = normalizeTree(value)
		}
		return m
	case []interface{}:
		for i, item := range v {
			v[i] = normalizeTree(item)
		}
		return v
	default:
		return v
	}
}
