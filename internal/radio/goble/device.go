package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Advertisement is the subset of a ble.Advertisement the radio uses.
type Advertisement struct {
	Addr     string
	Name     string
	RSSI     int
	Services []string
}

// Client is the GATT client surface of a connected ble.Client.
type Client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Device is a host controller able to scan and dial.
type Device interface {
	Scan(ctx context.Context, handler func(Advertisement)) error
	Dial(ctx context.Context, addr string) (Client, error)
}

// Options selects the host controller.
type Options struct {
	// DeviceID is the HCI index on Linux; ignored on macOS.
	DeviceID int
}

// DeviceFactory creates the platform Device (can be overridden in tests).
var DeviceFactory = func(opts Options) (Device, error) {
	dev, err := newPlatformDevice(opts)
	if err != nil {
		return nil, err
	}
	return &bleDevice{dev: dev}, nil
}

// bleDevice adapts a ble.Device to Device.
type bleDevice struct {
	dev ble.Device
}

func (d *bleDevice) Scan(ctx context.Context, handler func(Advertisement)) error {
	return d.dev.Scan(ctx, false, func(a ble.Advertisement) {
		adv := Advertisement{
			Addr: a.Addr().String(),
			Name: a.LocalName(),
			RSSI: a.RSSI(),
		}
		for _, u := range a.Services() {
			adv.Services = append(adv.Services, u.String())
		}
		handler(adv)
	})
}

func (d *bleDevice) Dial(ctx context.Context, addr string) (Client, error) {
	c, err := d.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return c, nil
}
