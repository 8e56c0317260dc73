// Package goble implements hrm.Radio on top of github.com/go-ble/ble.
//
// Every command returns immediately. Library calls block, so each runs on a named
// goroutine and reports its outcome to the Poster given to Start.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/radio"
)

// DefaultPollInterval is how often an unavailable adapter is opened again.
const DefaultPollInterval = 2 * time.Second

type Config struct {
	Options
	PollInterval time.Duration
	Logger       *logrus.Logger
}

// Radio drives one host controller. Links are keyed by peripheral address.
type Radio struct {
	cfg    Config
	logger *logrus.Logger

	ctx  context.Context
	post radio.Poster

	mu         sync.Mutex
	dev        Device
	lastState  hrm.AdapterState
	reported   bool
	scanCancel context.CancelFunc
	scanGen    uint64
	scanDone   chan struct{}

	links *hashmap.Map[string, *link]
}

var _ hrm.Radio = (*Radio)(nil)

type link struct {
	handle hrm.Handle
	cancel context.CancelFunc

	// mu serializes GATT requests on the client.
	mu     sync.Mutex
	client Client

	services *hashmap.Map[string, *ble.Service]
	chars    *hashmap.Map[string, *ble.Characteristic]
}

func (l *link) getClient() Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

func New(cfg Config) *Radio {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Radio{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    context.Background(),
		links:  hashmap.New[string, *link](),
	}
}

// Start begins probing the adapter and delivering events to p. The radio stops when ctx
// is cancelled.
func (r *Radio) Start(ctx context.Context, p radio.Poster) {
	r.mu.Lock()
	r.ctx = ctx
	r.post = p
	r.mu.Unlock()

	groutine.Go(ctx, "goble-adapter", r.watchAdapter)
}

func (r *Radio) watchAdapter(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.tryOpen()
		select {
		case <-ctx.Done():
			r.closeLinks()
			return
		case <-ticker.C:
		}
	}
}

// tryOpen opens the host controller if it is not open yet.
func (r *Radio) tryOpen() {
	if r.device() != nil {
		return
	}
	dev, err := DeviceFactory(r.cfg.Options)
	if err != nil {
		state := radio.StateFromError(err)
		r.logger.WithFields(logrus.Fields{
			"state": state,
			"error": err,
		}).Debug("Bluetooth adapter not available")
		r.reportState(state)
		return
	}

	r.mu.Lock()
	r.dev = dev
	r.mu.Unlock()
	r.logger.WithField("device_id", r.cfg.DeviceID).Info("Bluetooth adapter ready")
	r.reportState(hrm.AdapterPoweredOn)
}

func (r *Radio) reportState(state hrm.AdapterState) {
	r.mu.Lock()
	if r.reported && r.lastState == state {
		r.mu.Unlock()
		return
	}
	r.reported = true
	r.lastState = state
	r.mu.Unlock()

	r.emit(hrm.AdapterStateChanged{State: state})
}

// adapterLost drops the device when err says the adapter went away. The next poll
// reopens it.
func (r *Radio) adapterLost(err error) {
	state := radio.StateFromError(err)
	if state == hrm.AdapterUnknown || state == hrm.AdapterPoweredOn {
		return
	}
	r.mu.Lock()
	r.dev = nil
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"state": state,
		"error": err,
	}).Warn("Bluetooth adapter lost")
	r.reportState(state)
}

func (r *Radio) device() Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev
}

func (r *Radio) emit(ev hrm.Event) {
	r.mu.Lock()
	p := r.post
	r.mu.Unlock()
	if p != nil {
		p.Post(ev)
	}
}

func (r *Radio) baseContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// ----------------------------
// Scanning
// ----------------------------

func (r *Radio) Scan(services []string) error {
	dev := r.device()
	if dev == nil {
		return radio.ErrNoAdapter
	}

	r.mu.Lock()
	if r.scanCancel != nil {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.scanCancel = cancel
	r.scanGen++
	gen := r.scanGen
	prev := r.scanDone
	done := make(chan struct{})
	r.scanDone = done
	r.mu.Unlock()

	filter := gatt.NormalizeUUIDs(services)
	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer close(done)
		// The HCI scan of a stopped generation must finish before the next one starts.
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		err := dev.Scan(ctx, func(adv Advertisement) {
			if ctx.Err() != nil {
				return
			}
			if !radio.MatchesFilter(adv.Services, filter) {
				return
			}
			r.emit(hrm.PeripheralDiscovered{
				Addr:     adv.Addr,
				Name:     adv.Name,
				RSSI:     adv.RSSI,
				Services: gatt.NormalizeUUIDs(adv.Services),
			})
		})

		r.mu.Lock()
		if r.scanGen == gen && r.scanCancel != nil {
			r.scanCancel()
			r.scanCancel = nil
		}
		r.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			r.logger.WithField("error", err).Error("Scan stopped unexpectedly")
			r.adapterLost(err)
		}
	})
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanCancel != nil {
		r.scanCancel()
		r.scanCancel = nil
	}
	return nil
}

// ----------------------------
// Links
// ----------------------------

func (r *Radio) Connect(h hrm.Handle) error {
	dev := r.device()
	if dev == nil {
		return radio.ErrNoAdapter
	}

	ctx, cancel := context.WithCancel(r.baseContext())
	l := &link{
		handle:   h,
		cancel:   cancel,
		services: hashmap.New[string, *ble.Service](),
		chars:    hashmap.New[string, *ble.Characteristic](),
	}
	if existing, loaded := r.links.GetOrInsert(h.Addr, l); loaded {
		cancel()
		return fmt.Errorf("%s: link already open for %s", h.Addr, existing.handle)
	}

	groutine.Go(ctx, "goble-dial", func(ctx context.Context) {
		r.logger.WithField("address", h.Addr).Debug("Dialing BLE device...")
		client, err := dev.Dial(ctx, h.Addr)
		if err != nil {
			r.removeLink(l)
			if ctx.Err() == nil {
				err = radio.NormalizeError(err)
				r.emit(hrm.PeripheralConnectFailed{Handle: h, Err: err})
				r.adapterLost(err)
			}
			return
		}
		if ctx.Err() != nil {
			// Cancelled while dialing.
			_ = client.CancelConnection()
			return
		}

		l.mu.Lock()
		l.client = client
		l.mu.Unlock()
		r.emit(hrm.PeripheralConnected{Handle: h})

		groutine.Go(ctx, "goble-link-monitor", func(ctx context.Context) {
			select {
			case <-client.Disconnected():
				if r.removeLink(l) {
					r.emit(hrm.PeripheralDisconnected{Handle: h, Err: radio.ErrNotConnected})
				}
			case <-ctx.Done():
			}
		})
	})
	return nil
}

// removeLink unregisters l and reports whether it was still registered.
func (r *Radio) removeLink(l *link) bool {
	cur, ok := r.links.Get(l.handle.Addr)
	if !ok || cur != l {
		return false
	}
	return r.links.Del(l.handle.Addr)
}

func (r *Radio) link(h hrm.Handle) (*link, error) {
	l, ok := r.links.Get(h.Addr)
	if !ok || l.handle != h {
		return nil, fmt.Errorf("%w: %s", radio.ErrNotConnected, h)
	}
	return l, nil
}

func (r *Radio) CancelConnection(h hrm.Handle) error {
	l, err := r.link(h)
	if err != nil {
		return nil
	}
	r.removeLink(l)
	l.cancel()

	if client := l.getClient(); client != nil {
		groutine.Go(context.Background(), "goble-cancel", func(context.Context) {
			if err := client.CancelConnection(); err != nil {
				r.logger.WithFields(logrus.Fields{
					"address": h.Addr,
					"error":   err,
				}).Warn("BLE device disconnected with errors")
				return
			}
			r.logger.WithField("address", h.Addr).Info("BLE device disconnected")
		})
	}
	return nil
}

func (r *Radio) closeLinks() {
	var open []*link
	r.links.Range(func(_ string, l *link) bool {
		open = append(open, l)
		return true
	})
	for _, l := range open {
		_ = r.CancelConnection(l.handle)
	}
}

// connected returns the link and client for h.
func (r *Radio) connected(h hrm.Handle) (*link, Client, error) {
	l, err := r.link(h)
	if err != nil {
		return nil, nil, err
	}
	c := l.getClient()
	if c == nil {
		return nil, nil, fmt.Errorf("%w: %s still connecting", radio.ErrNotConnected, h)
	}
	return l, c, nil
}

// ----------------------------
// GATT
// ----------------------------

func (r *Radio) DiscoverServices(h hrm.Handle, services []string) error {
	l, c, err := r.connected(h)
	if err != nil {
		return err
	}
	filter, err := parseUUIDs(services)
	if err != nil {
		return err
	}

	r.gatt(l, "goble-discover-services", func() {
		found, err := c.DiscoverServices(filter)
		ev := hrm.ServicesDiscovered{Handle: h, Err: radio.NormalizeError(err)}
		for _, s := range found {
			uuid := gatt.NormalizeUUID(s.UUID.String())
			l.services.Set(uuid, s)
			ev.Services = append(ev.Services, uuid)
		}
		r.emit(ev)
	})
	return nil
}

func (r *Radio) DiscoverCharacteristics(h hrm.Handle, service string) error {
	l, c, err := r.connected(h)
	if err != nil {
		return err
	}
	svcUUID := gatt.NormalizeUUID(service)
	svc, ok := l.services.Get(svcUUID)
	if !ok {
		return fmt.Errorf("%w: service %s", radio.ErrUnknownAttribute, svcUUID)
	}

	r.gatt(l, "goble-discover-characteristics", func() {
		chars, err := c.DiscoverCharacteristics(nil, svc)
		ev := hrm.CharacteristicsDiscovered{Handle: h, Service: svcUUID, Err: radio.NormalizeError(err)}
		for _, ch := range chars {
			uuid := gatt.NormalizeUUID(ch.UUID.String())
			props := fromBLEProperty(ch.Property)
			if props.Notifiable() {
				// Subscribing needs the CCCD handle on Linux.
				if _, derr := c.DiscoverDescriptors(nil, ch); derr != nil {
					r.logger.WithFields(logrus.Fields{
						"char_uuid": uuid,
						"error":     derr,
					}).Debug("Descriptor discovery failed")
				}
			}
			l.chars.Set(radio.Key(svcUUID, uuid), ch)
			ev.Characteristics = append(ev.Characteristics, hrm.CharacteristicInfo{UUID: uuid, Properties: props})
		}
		r.emit(ev)
	})
	return nil
}

func (r *Radio) characteristic(l *link, service, char string) (*ble.Characteristic, error) {
	ch, ok := l.chars.Get(radio.Key(service, char))
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %s", radio.ErrUnknownAttribute, radio.Key(service, char))
	}
	return ch, nil
}

func (r *Radio) Read(h hrm.Handle, service, char string) error {
	l, c, err := r.connected(h)
	if err != nil {
		return err
	}
	ch, err := r.characteristic(l, service, char)
	if err != nil {
		return err
	}

	r.gatt(l, "goble-read", func() {
		value, err := c.ReadCharacteristic(ch)
		r.emit(hrm.ValueUpdated{
			Handle:         h,
			Service:        gatt.NormalizeUUID(service),
			Characteristic: gatt.NormalizeUUID(char),
			Value:          value,
			Err:            radio.NormalizeError(err),
		})
	})
	return nil
}

func (r *Radio) Subscribe(h hrm.Handle, service, char string) error {
	l, c, err := r.connected(h)
	if err != nil {
		return err
	}
	ch, err := r.characteristic(l, service, char)
	if err != nil {
		return err
	}
	svcUUID, charUUID := gatt.NormalizeUUID(service), gatt.NormalizeUUID(char)
	indicate := ch.Property&ble.CharNotify == 0 && ch.Property&ble.CharIndicate != 0

	r.gatt(l, "goble-subscribe", func() {
		err := c.Subscribe(ch, indicate, func(data []byte) {
			value := make([]byte, len(data))
			copy(value, data)
			r.emit(hrm.ValueUpdated{Handle: h, Service: svcUUID, Characteristic: charUUID, Value: value})
		})
		r.emit(hrm.NotifyStateUpdated{
			Handle:         h,
			Service:        svcUUID,
			Characteristic: charUUID,
			Err:            radio.NormalizeError(err),
		})
	})
	return nil
}

// gatt runs fn on its own goroutine holding the link's request lock.
func (r *Radio) gatt(l *link, name string, fn func()) {
	groutine.Go(r.baseContext(), name, func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		fn()
	})
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if uuids == nil {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(gatt.NormalizeUUID(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func fromBLEProperty(p ble.Property) gatt.Property {
	var out gatt.Property
	if p&ble.CharRead != 0 {
		out |= gatt.PropertyRead
	}
	if p&ble.CharNotify != 0 {
		out |= gatt.PropertyNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= gatt.PropertyIndicate
	}
	return out
}
