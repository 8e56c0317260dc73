package hrm_test

import (
	"errors"
	"testing"

	"github.com/srg/hrmon/internal/hrm"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to hrm.SessionState
		allowed  bool
	}{
		{hrm.SessionDiscovered, hrm.SessionConnecting, true},
		{hrm.SessionConnecting, hrm.SessionConnected, true},
		{hrm.SessionConnecting, hrm.SessionFailed, true},
		{hrm.SessionConnected, hrm.SessionDiscoveringServices, true},
		{hrm.SessionDiscoveringServices, hrm.SessionDiscoveringCharacteristics, true},
		{hrm.SessionDiscoveringServices, hrm.SessionActive, true},
		{hrm.SessionDiscoveringCharacteristics, hrm.SessionActive, true},
		{hrm.SessionActive, hrm.SessionDisconnected, true},
		{hrm.SessionDiscovered, hrm.SessionActive, false},
		{hrm.SessionConnecting, hrm.SessionDiscoveringServices, false},
		{hrm.SessionActive, hrm.SessionConnecting, false},
		{hrm.SessionDiscoveringCharacteristics, hrm.SessionDiscoveringServices, false},
		{hrm.SessionDisconnected, hrm.SessionConnecting, false},
		{hrm.SessionFailed, hrm.SessionDisconnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, hrm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestSessionStateText(t *testing.T) {
	assert.Equal(t, "DiscoveringCharacteristics", hrm.SessionDiscoveringCharacteristics.String())
	assert.True(t, hrm.SessionFailed.Terminal())
	assert.False(t, hrm.SessionActive.Terminal())
	assert.Equal(t, "SessionState(42)", hrm.SessionState(42).String())

	text, err := hrm.SessionActive.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "Active", string(text))
}

func TestTransitionError(t *testing.T) {
	err := error(&hrm.TransitionError{From: hrm.SessionActive, To: hrm.SessionConnecting})
	assert.True(t, errors.Is(err, hrm.ErrInvalidTransition))
	assert.Equal(t, "invalid session transition: Active -> Connecting", err.Error())
}
