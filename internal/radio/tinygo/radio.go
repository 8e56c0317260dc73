// Package tinygo implements hrm.Radio on top of tinygo.org/x/bluetooth.
//
// The library reports no characteristic properties portably, so characteristics are
// announced with the properties their role mandates.
package tinygo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/radio"
)

const DefaultPollInterval = 2 * time.Second

type Config struct {
	Transport    Transport
	PollInterval time.Duration
	Logger       *logrus.Logger
}

type Radio struct {
	transport Transport
	interval  time.Duration
	logger    *logrus.Logger

	mu       sync.Mutex
	ctx      context.Context
	post     radio.Poster
	enabled  bool
	reported bool
	state    hrm.AdapterState

	// scanning is cleared by StopScan at once. The transport scan it started may still be
	// winding down; scanDone closes when it has, and the next scan waits for it.
	scanning   bool
	scanActive bool
	scanGen    uint64
	scanDone   chan struct{}

	links *hashmap.Map[string, *link]
}

var _ hrm.Radio = (*Radio)(nil)

type link struct {
	handle hrm.Handle

	// mu serializes GATT requests and guards peer.
	mu   sync.Mutex
	peer Peer

	services *hashmap.Map[string, Service]
	chars    *hashmap.Map[string, Characteristic]
}

func New(cfg Config) *Radio {
	if cfg.Transport == nil {
		cfg.Transport = NewTransport()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Radio{
		transport: cfg.Transport,
		interval:  cfg.PollInterval,
		logger:    cfg.Logger,
		ctx:       context.Background(),
		links:     hashmap.New[string, *link](),
	}
}

// Start enables the adapter, retrying until it succeeds or ctx is cancelled, and delivers
// events to p.
func (r *Radio) Start(ctx context.Context, p radio.Poster) {
	r.mu.Lock()
	r.ctx = ctx
	r.post = p
	r.mu.Unlock()

	r.transport.OnDisconnect(r.onDisconnect)
	groutine.Go(ctx, "tinygo-adapter", func(ctx context.Context) {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for !r.enable() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		<-ctx.Done()
		_ = r.StopScan()
		r.closeLinks()
	})
}

func (r *Radio) enable() bool {
	if err := r.transport.Enable(); err != nil {
		state := radio.StateFromError(err)
		r.logger.WithFields(logrus.Fields{
			"state": state,
			"error": err,
		}).Debug("Bluetooth adapter not available")
		r.report(state)
		return false
	}
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	r.logger.Info("Bluetooth adapter ready")
	r.report(hrm.AdapterPoweredOn)
	return true
}

// PowerChanged feeds an external power signal, such as the BlueZ watcher, into the
// adapter state. Power-on is only reported once the adapter is enabled.
func (r *Radio) PowerChanged(powered bool) {
	if !powered {
		r.report(hrm.AdapterPoweredOff)
		return
	}
	if r.ready() == nil {
		r.report(hrm.AdapterPoweredOn)
	}
}

func (r *Radio) report(state hrm.AdapterState) {
	r.mu.Lock()
	if r.reported && r.state == state {
		r.mu.Unlock()
		return
	}
	r.reported, r.state = true, state
	p := r.post
	r.mu.Unlock()

	if p != nil {
		p.Post(hrm.AdapterStateChanged{State: state})
	}
}

func (r *Radio) emit(ev hrm.Event) {
	r.mu.Lock()
	p := r.post
	r.mu.Unlock()
	if p != nil {
		p.Post(ev)
	}
}

func (r *Radio) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return radio.ErrNoAdapter
	}
	return nil
}

// ----------------------------
// Scanning
// ----------------------------

func (r *Radio) Scan(services []string) error {
	if err := r.ready(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.scanGen++
	gen := r.scanGen
	prev := r.scanDone
	done := make(chan struct{})
	r.scanDone = done
	ctx := r.ctx
	r.mu.Unlock()

	filter := gatt.NormalizeUUIDs(services)
	groutine.Go(ctx, "tinygo-scan", func(ctx context.Context) {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		if !r.beginScan(gen) {
			return
		}

		err := r.transport.Scan(filter, func(adv Advertisement) {
			if !r.currentScan(gen) {
				// StopScan ran before the transport scan was under way.
				_ = r.transport.StopScan()
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
		r.scanActive = false
		unexpected := r.scanning && r.scanGen == gen
		if unexpected {
			r.scanning = false
		}
		r.mu.Unlock()

		if err != nil && unexpected {
			err = radio.NormalizeError(err)
			r.logger.WithField("error", err).Error("Scan stopped unexpectedly")
			if state := radio.StateFromError(err); state != hrm.AdapterUnknown {
				r.report(state)
			}
		}
	})
	return nil
}

// beginScan marks the transport scan for gen as running, unless gen was stopped or replaced.
func (r *Radio) beginScan(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.scanning || r.scanGen != gen {
		return false
	}
	r.scanActive = true
	return true
}

func (r *Radio) currentScan(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning && r.scanGen == gen
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	active := r.scanning && r.scanActive
	r.scanning = false
	r.scanActive = false
	r.mu.Unlock()
	if !active {
		return nil
	}
	return r.transport.StopScan()
}

// ----------------------------
// Links
// ----------------------------

func (r *Radio) Connect(h hrm.Handle) error {
	if err := r.ready(); err != nil {
		return err
	}
	l := &link{
		handle:   h,
		services: hashmap.New[string, Service](),
		chars:    hashmap.New[string, Characteristic](),
	}
	if existing, loaded := r.links.GetOrInsert(h.Addr, l); loaded {
		return fmt.Errorf("%s: link already open for %s", h.Addr, existing.handle)
	}

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	groutine.Go(ctx, "tinygo-connect", func(context.Context) {
		peer, err := r.transport.Connect(h.Addr)
		if err != nil {
			if r.removeLink(l) {
				r.emit(hrm.PeripheralConnectFailed{Handle: h, Err: radio.NormalizeError(err)})
			}
			return
		}

		l.mu.Lock()
		l.peer = peer
		l.mu.Unlock()

		if cur, ok := r.links.Get(h.Addr); !ok || cur != l {
			// Cancelled while connecting; the library call cannot be interrupted.
			_ = peer.Disconnect()
			return
		}
		r.emit(hrm.PeripheralConnected{Handle: h})
	})
	return nil
}

func (r *Radio) onDisconnect(addr string) {
	l, ok := r.links.Get(addr)
	if !ok || !r.removeLink(l) {
		return
	}
	r.emit(hrm.PeripheralDisconnected{Handle: l.handle, Err: radio.ErrNotConnected})
}

func (r *Radio) removeLink(l *link) bool {
	cur, ok := r.links.Get(l.handle.Addr)
	if !ok || cur != l {
		return false
	}
	return r.links.Del(l.handle.Addr)
}

func (r *Radio) CancelConnection(h hrm.Handle) error {
	l, ok := r.links.Get(h.Addr)
	if !ok || l.handle != h || !r.removeLink(l) {
		return nil
	}

	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil {
		return nil
	}
	groutine.Go(context.Background(), "tinygo-disconnect", func(context.Context) {
		if err := peer.Disconnect(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"address": h.Addr,
				"error":   err,
			}).Warn("BLE device disconnected with errors")
		}
	})
	return nil
}

func (r *Radio) closeLinks() {
	var open []hrm.Handle
	r.links.Range(func(_ string, l *link) bool {
		open = append(open, l.handle)
		return true
	})
	for _, h := range open {
		_ = r.CancelConnection(h)
	}
}

func (r *Radio) connected(h hrm.Handle) (*link, Peer, error) {
	l, ok := r.links.Get(h.Addr)
	if !ok || l.handle != h {
		return nil, nil, fmt.Errorf("%w: %s", radio.ErrNotConnected, h)
	}
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil {
		return nil, nil, fmt.Errorf("%w: %s still connecting", radio.ErrNotConnected, h)
	}
	return l, peer, nil
}

// ----------------------------
// GATT
// ----------------------------

func (r *Radio) DiscoverServices(h hrm.Handle, services []string) error {
	l, peer, err := r.connected(h)
	if err != nil {
		return err
	}
	var filter []string
	if services != nil {
		filter = gatt.NormalizeUUIDs(services)
	}

	r.gatt(l, "tinygo-discover-services", func() {
		found, err := peer.DiscoverServices(filter)
		ev := hrm.ServicesDiscovered{Handle: h, Err: radio.NormalizeError(err)}
		for _, s := range found {
			l.services.Set(s.UUID(), s)
			ev.Services = append(ev.Services, s.UUID())
		}
		r.emit(ev)
	})
	return nil
}

func (r *Radio) DiscoverCharacteristics(h hrm.Handle, service string) error {
	l, _, err := r.connected(h)
	if err != nil {
		return err
	}
	svcUUID := gatt.NormalizeUUID(service)
	svc, ok := l.services.Get(svcUUID)
	if !ok {
		return fmt.Errorf("%w: service %s", radio.ErrUnknownAttribute, svcUUID)
	}

	r.gatt(l, "tinygo-discover-characteristics", func() {
		chars, err := svc.DiscoverCharacteristics()
		ev := hrm.CharacteristicsDiscovered{Handle: h, Service: svcUUID, Err: radio.NormalizeError(err)}
		for _, ch := range chars {
			uuid := ch.UUID()
			l.chars.Set(radio.Key(svcUUID, uuid), ch)
			ev.Characteristics = append(ev.Characteristics, hrm.CharacteristicInfo{
				UUID:       uuid,
				Properties: gatt.Classify(uuid).DefaultProperties(),
			})
		}
		r.emit(ev)
	})
	return nil
}

func (r *Radio) characteristic(h hrm.Handle, service, char string) (*link, Characteristic, error) {
	l, _, err := r.connected(h)
	if err != nil {
		return nil, nil, err
	}
	ch, ok := l.chars.Get(radio.Key(service, char))
	if !ok {
		return nil, nil, fmt.Errorf("%w: characteristic %s", radio.ErrUnknownAttribute, radio.Key(service, char))
	}
	return l, ch, nil
}

func (r *Radio) Read(h hrm.Handle, service, char string) error {
	l, ch, err := r.characteristic(h, service, char)
	if err != nil {
		return err
	}
	svcUUID, charUUID := gatt.NormalizeUUID(service), gatt.NormalizeUUID(char)

	r.gatt(l, "tinygo-read", func() {
		value, err := ch.Read()
		r.emit(hrm.ValueUpdated{
			Handle:         h,
			Service:        svcUUID,
			Characteristic: charUUID,
			Value:          value,
			Err:            radio.NormalizeError(err),
		})
	})
	return nil
}

func (r *Radio) Subscribe(h hrm.Handle, service, char string) error {
	l, ch, err := r.characteristic(h, service, char)
	if err != nil {
		return err
	}
	svcUUID, charUUID := gatt.NormalizeUUID(service), gatt.NormalizeUUID(char)

	r.gatt(l, "tinygo-subscribe", func() {
		err := ch.EnableNotifications(func(value []byte) {
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

func (r *Radio) gatt(l *link, name string, fn func()) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	groutine.Go(ctx, name, func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		fn()
	})
}
