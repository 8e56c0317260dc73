//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice(opts Options) (ble.Device, error) {
	dev, err := linux.NewDevice(ble.OptDeviceID(opts.DeviceID))
	if err != nil {
		return nil, err
	}
	return dev, nil
}
