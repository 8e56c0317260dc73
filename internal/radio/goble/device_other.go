//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/hrmon/internal/radio"
)

func newPlatformDevice(Options) (ble.Device, error) {
	return nil, radio.ErrUnsupported
}
