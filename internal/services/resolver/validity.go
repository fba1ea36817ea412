package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
)

// ErrValidityKeyMissing reports a contract violation: the backend answer
// carried a fenced JSON block but the configured validity key was absent.
// Unlike per-reference failures this aborts the run.
var ErrValidityKeyMissing = errors.New("validity key not found in response")

// fencedJSON captures the payload of the first ```json code fence in the
// raw answer text.
var fencedJSON = regexp.MustCompile("(?s)```json(.*?)```")

// affirmative is the set of string values accepted as a true validity flag
var affirmative = map[string]struct{}{
	"true": {}, "yes": {}, "1": {}, "t": {}, "y": {},
}

// Validator gates substitution on the structured part of a backend
// answer. With no key configured every parseable answer passes.
type Validator struct {
	key    string
	logger arbor.ILogger
}

// NewValidator creates a validator for the configured response key. An
// empty key disables the check.
func NewValidator(key string, logger arbor.ILogger) *Validator {
	return &Validator{key: key, logger: logger}
}

// Validate evaluates the validity flag carried in the answer's fenced
// JSON block. With no key configured every answer is valid and the block
// is not required. Otherwise a missing block or unparseable JSON is a
// per-reference failure: (false, nil), caller skips. A configured key
// absent from the parsed block wraps ErrValidityKeyMissing.
func (v *Validator) Validate(answer string) (bool, error) {
	if v.key == "" {
		return true, nil
	}

	match := fencedJSON.FindStringSubmatch(answer)
	if match == nil {
		v.logger.Warn().Msg("No JSON content found in response")
		return false, nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(match[1]), &parsed); err != nil {
		v.logger.Error().Err(err).Msg("Failed to parse JSON from response")
		return false, nil
	}

	flag, exists := parsed[v.key]
	if !exists {
		v.logger.Error().
			Str("key", v.key).
			Msg("Specified validity key not found in response")
		return false, fmt.Errorf("%w: %q", ErrValidityKeyMissing, v.key)
	}

	valid := normalizeFlag(flag)
	v.logger.Info().
		Str("key", v.key).
		Bool("valid", valid).
		Msg("Evaluated validity flag")
	return valid, nil
}

// normalizeFlag folds the loosely typed flag to a boolean: booleans pass
// through, strings match a small affirmative set case-insensitively, any
// other type is false.
func normalizeFlag(flag interface{}) bool {
	switch v := flag.(type) {
	case bool:
		return v
	case string:
		_, ok := affirmative[strings.ToLower(v)]
		return ok
	default:
		return false
	}
}
