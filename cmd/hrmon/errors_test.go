package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/radio"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bare sentinel", radio.ErrBluetoothOff, "Bluetooth is turned off. Turn it on and try again."},
		{"wrapped sentinel", fmt.Errorf("scan: %w", radio.ErrUnsupported),
			"Bluetooth LE is not supported on this host. (scan: bluetooth LE is not supported on this host)"},
		{"session timeout", fmt.Errorf("AA: %w", hrm.ErrConnectTimeout),
			"the heart rate monitor did not accept the connection in time. (AA: connect timed out)"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
