package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	t.Run("matches after trimming", func(t *testing.T) {
		rt := &recordingT{}
		ok := NewTextAsserter(rt).Assert("heart_rate 72  \nbattery 85\n", "\nheart_rate 72\nbattery 85")
		assert.True(t, ok)
		assert.Empty(t, rt.errors)
	})

	t.Run("reports a unified diff", func(t *testing.T) {
		rt := &recordingT{}
		ok := NewTextAsserter(rt).Assert("heart_rate 72\nbattery 84", "heart_rate 72\nbattery 85")
		assert.False(t, ok)
		if assert.Len(t, rt.errors, 1) {
			assert.Contains(t, rt.errors[0], "-battery 85")
			assert.Contains(t, rt.errors[0], "+battery 84")
		}
	})

	t.Run("exact comparison", func(t *testing.T) {
		ta := NewTextAsserter(&recordingT{}, WithTrimSpace(false), WithIgnoreTrailingWhitespace(false))
		assert.NotEmpty(t, ta.Diff("a \n", "a"))
	})

	t.Run("colored diff marks spaces", func(t *testing.T) {
		diff := NewTextAsserter(&recordingT{}, WithColors(true)).Diff("a b", "a c")
		assert.Contains(t, diff, "a·c")
	})
}
