package doctree

import (
	"fmt"
	"regexp"
)

// Matcher classifies which located strings are image references. It is a
// pure predicate over a caller-supplied pattern with search semantics:
// the pattern need not anchor to the whole string unless written to.
type Matcher struct {
	pattern *regexp.Regexp
}

// NewMatcher compiles the reference pattern. An empty pattern yields a
// matcher that never matches.
func NewMatcher(pattern string) (*Matcher, error) {
	if pattern == "" {
		return &Matcher{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid reference pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: re}, nil
}

// IsReference reports whether value matches the configured pattern.
// Empty input never matches.
func (m *Matcher) IsReference(value string) bool {
	if m.pattern == nil || value == "" {
		return false
	}
	return m.pattern.MatchString(value)
}
