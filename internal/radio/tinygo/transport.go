package tinygo

import (
	"fmt"
	"sync"

	"github.com/srg/hrmon/internal/gatt"
	"tinygo.org/x/bluetooth"
)

// Advertisement is a scan result reduced to what the radio reports.
type Advertisement struct {
	Addr string
	Name string
	RSSI int
	// Services holds the filter UUIDs the advertisement carries.
	Services []string
}

// Transport is the adapter surface of tinygo.org/x/bluetooth.
type Transport interface {
	Enable() error
	// Scan blocks until StopScan is called.
	Scan(services []string, handler func(Advertisement)) error
	StopScan() error
	Connect(addr string) (Peer, error)
	// OnDisconnect registers the callback fired when a peripheral drops its link.
	OnDisconnect(fn func(addr string))
}

type Peer interface {
	DiscoverServices(uuids []string) ([]Service, error)
	Disconnect() error
}

type Service interface {
	UUID() string
	DiscoverCharacteristics() ([]Characteristic, error)
}

type Characteristic interface {
	UUID() string
	Read() ([]byte, error)
	EnableNotifications(fn func([]byte)) error
}

// readBufferSize covers the default ATT MTU payload.
const readBufferSize = 512

// NewTransport wraps bluetooth.DefaultAdapter.
func NewTransport() Transport {
	return &adapterTransport{adapter: bluetooth.DefaultAdapter}
}

type adapterTransport struct {
	adapter *bluetooth.Adapter

	mu           sync.Mutex
	onDisconnect func(addr string)
	// seen maps advertised address strings to the address values Connect needs.
	seen map[string]bluetooth.Address
}

func (t *adapterTransport) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		fn := t.onDisconnect
		t.mu.Unlock()
		if fn != nil {
			fn(device.Address.String())
		}
	})
	return nil
}

func (t *adapterTransport) OnDisconnect(fn func(addr string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

func (t *adapterTransport) Scan(services []string, handler func(Advertisement)) error {
	filter, err := parseUUIDs(services)
	if err != nil {
		return err
	}

	return t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			Addr: result.Address.String(),
			Name: result.LocalName(),
			RSSI: int(result.RSSI),
		}
		for i, u := range filter {
			if result.HasServiceUUID(u) {
				adv.Services = append(adv.Services, gatt.NormalizeUUID(services[i]))
			}
		}
		if len(filter) > 0 && len(adv.Services) == 0 {
			return
		}

		t.mu.Lock()
		if t.seen == nil {
			t.seen = make(map[string]bluetooth.Address)
		}
		t.seen[adv.Addr] = result.Address
		t.mu.Unlock()

		handler(adv)
	})
}

func (t *adapterTransport) StopScan() error {
	return t.adapter.StopScan()
}

func (t *adapterTransport) Connect(addr string) (Peer, error) {
	t.mu.Lock()
	address, ok := t.seen[addr]
	t.mu.Unlock()
	if !ok {
		address.Set(addr)
	}

	device, err := t.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &devicePeer{device: device}, nil
}

type devicePeer struct {
	device bluetooth.Device
}

func (p *devicePeer) DiscoverServices(uuids []string) ([]Service, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	svcs, err := p.device.DiscoverServices(filter)
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		out = append(out, &deviceService{svc: &svcs[i]})
	}
	return out, nil
}

func (p *devicePeer) Disconnect() error {
	return p.device.Disconnect()
}

type deviceService struct {
	svc *bluetooth.DeviceService
}

func (s *deviceService) UUID() string {
	return gatt.NormalizeUUID(s.svc.UUID().String())
}

func (s *deviceService) DiscoverCharacteristics() ([]Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, err
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &deviceCharacteristic{char: &chars[i]})
	}
	return out, nil
}

type deviceCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *deviceCharacteristic) UUID() string {
	return gatt.NormalizeUUID(c.char.UUID().String())
}

func (c *deviceCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *deviceCharacteristic) EnableNotifications(fn func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		value := make([]byte, len(buf))
		copy(value, buf)
		fn(value)
	})
}

// parseUUIDs converts registry UUIDs to library UUIDs. nil stays nil so discovery is
// unfiltered.
func parseUUIDs(uuids []string) ([]bluetooth.UUID, error) {
	if uuids == nil {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		full, err := gatt.ExpandUUID(u)
		if err != nil {
			return nil, err
		}
		parsed, err := bluetooth.ParseUUID(full)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}
