package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func answerWith(body string) string {
	return "some leading text\n```json\n" + body + "\n```\ntrailing text"
}

func TestValidateFlagNormalization(t *testing.T) {
	v := NewValidator("is_valid", arbor.NewLogger())

	tests := []struct {
		name   string
		body   string
		expect bool
	}{
		{"bool true", `{"is_valid": true}`, true},
		{"bool false", `{"is_valid": false}`, false},
		{"string yes", `{"is_valid": "yes"}`, true},
		{"string Yes mixed case", `{"is_valid": "Yes"}`, true},
		{"string true", `{"is_valid": "true"}`, true},
		{"string 1", `{"is_valid": "1"}`, true},
		{"string t", `{"is_valid": "T"}`, true},
		{"string y", `{"is_valid": "y"}`, true},
		{"string no", `{"is_valid": "no"}`, false},
		{"number", `{"is_valid": 1}`, false},
		{"float", `{"is_valid": 3.5}`, false},
		{"null", `{"is_valid": null}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, err := v.Validate(answerWith(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.expect, valid)
		})
	}
}

func TestValidateMissingKeyIsContractViolation(t *testing.T) {
	v := NewValidator("is_valid", arbor.NewLogger())

	_, err := v.Validate(answerWith(`{"other": true}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidityKeyMissing))
}

func TestValidateNoKeyConfigured(t *testing.T) {
	v := NewValidator("", arbor.NewLogger())

	valid, err := v.Validate(answerWith(`{"anything": "at all"}`))
	require.NoError(t, err)
	assert.True(t, valid)

	// Without a configured key the fenced block is not required either
	valid, err = v.Validate("a plain answer, no code fence")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidateMissingFencedBlock(t *testing.T) {
	v := NewValidator("is_valid", arbor.NewLogger())

	valid, err := v.Validate("a plain answer with no code fence")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateUnparseableJSON(t *testing.T) {
	v := NewValidator("is_valid", arbor.NewLogger())

	valid, err := v.Validate(answerWith(`{not json at all`))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidateFirstFencedBlockWins(t *testing.T) {
	v := NewValidator("is_valid", arbor.NewLogger())

	answer := "```json\n{\"is_valid\": true}\n```\nmore\n```json\n{\"is_valid\": false}\n```"
	valid, err := v.Validate(answer)
	require.NoError(t, err)
	assert.True(t, valid)
}
