package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "extra keys ignored by default",
			actual:   `{"type":"heart_rate","bpm":72,"ts":"2026-01-01T00:00:00Z"}`,
			expected: `{"type":"heart_rate","bpm":72}`,
			match:    true,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			actual:   `{"type":"heart_rate","bpm":72,"ts":"x"}`,
			expected: `{"type":"heart_rate","bpm":72}`,
		},
		{
			name:     "value mismatch",
			actual:   `{"bpm":71}`,
			expected: `{"bpm":72}`,
		},
		{
			name:     "presence placeholder",
			actual:   `{"ts":"2026-01-01T00:00:00Z"}`,
			expected: `{"ts":"<<PRESENCE>>"}`,
			match:    true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{}`,
			expected: `{"ts":"<<PRESENCE>>"}`,
		},
		{
			name:     "ignored fields in nested arrays",
			opts:     []JSONOption{WithIgnoredFields("value")},
			actual:   `[{"uuid":"2a37","value":"0048"}]`,
			expected: `[{"uuid":"2a37","value":"ffff"}]`,
			match:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t, tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestMustJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, MustJSON(map[string]int{"a": 1}))
	assert.Panics(t, func() { MustJSON(func() {}) })
}
