package hrm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
)

// DefaultQueueSize is the inbound event buffer used when Options.QueueSize is zero.
const DefaultQueueSize = 256

// Options configures a Central.
type Options struct {
	Logger *logrus.Logger

	// DeviceModel names the host hardware in adapter warnings.
	DeviceModel string

	// ConnectTimeout fails a session that has not connected in time. Zero disables it.
	ConnectTimeout time.Duration

	// DiscoveryTimeout abandons outstanding discovery, read and subscribe requests and
	// forces the session Active. Zero disables it.
	DiscoveryTimeout time.Duration

	// DiscoverAllServices requests every service instead of the three known ones. Unknown
	// services are then dropped by the registry.
	DiscoverAllServices bool

	Decoder   gatt.Decoder
	QueueSize int
}

// Central is the single actor that owns the adapter state machine and the session.
//
// Backends deliver platform callbacks with Post; Run applies them serially. Handle applies
// one event synchronously and is what Run calls for each queued event.
type Central struct {
	radio  Radio
	sink   EventSink
	opts   Options
	logger *logrus.Logger

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	// mu serializes Handle against Snapshot.
	mu             sync.Mutex
	adapter        Adapter
	session        *Session
	scanning       bool
	epoch          uint64
	connectTimer   *time.Timer
	discoveryTimer *time.Timer
}

func NewCentral(radio Radio, sink EventSink, opts Options) *Central {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Central{
		radio:  radio,
		sink:   sink,
		opts:   opts,
		logger: opts.Logger,
		events: make(chan Event, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

// Post queues an event for the dispatch goroutine. It is safe for concurrent use and
// returns immediately once Run has exited.
func (c *Central) Post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run dispatches queued events until ctx is cancelled, then tears down any live session.
func (c *Central) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })

	c.logger.Debug("Central dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev := <-c.events:
			c.Handle(ev)
		}
	}
}

func (c *Central) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.teardown(SessionDisconnected, context.Canceled)
	}
	c.stopScan()
	c.logger.Debug("Central dispatch loop stopped")
}

// Handle applies one event. Events referencing a handle other than the live session's
// are dropped.
func (c *Central) Handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case AdapterStateChanged:
		c.onAdapterState(e.State)
	case PeripheralDiscovered:
		c.onDiscovered(e)
	case PeripheralConnected:
		c.onConnected(e)
	case PeripheralConnectFailed:
		c.onConnectFailed(e)
	case PeripheralDisconnected:
		c.onDisconnected(e)
	case ServicesDiscovered:
		c.onServicesDiscovered(e)
	case CharacteristicsDiscovered:
		c.onCharacteristicsDiscovered(e)
	case NotifyStateUpdated:
		c.onNotifyState(e)
	case ValueUpdated:
		c.onValueUpdated(e)
	case connectTimeout:
		c.onConnectTimeout(e.Handle)
	case discoveryTimeout:
		c.onDiscoveryTimeout(e.Handle)
	default:
		c.logger.WithField("event", ev).Warn("Ignoring unsupported event")
	}
}

// ----------------------------
// Adapter
// ----------------------------

func (c *Central) onAdapterState(state AdapterState) {
	t, changed := c.adapter.Apply(state)
	if !changed {
		c.logger.WithField("state", state).Debug("Adapter state unchanged")
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": t.From,
		"to":   t.To,
	}).Info("Adapter state changed")

	if t.To.Warns() {
		c.sink.OnAdapterWarning(t.To, c.opts.DeviceModel)
	}

	if t.Left(AdapterPoweredOn) {
		// The radio dropped any scan and link on its own.
		c.scanning = false
		if c.session != nil {
			c.teardown(SessionDisconnected, errors.New("adapter left powered on"))
		}
	}

	if t.Entered(AdapterPoweredOn) {
		c.startScan()
	}
}

func (c *Central) startScan() {
	if c.adapter.State() != AdapterPoweredOn || c.session != nil || c.scanning {
		return
	}
	services := gatt.ScanServices()
	if err := c.radio.Scan(services); err != nil {
		c.logger.WithField("error", err).Error("Failed to start scan")
		return
	}
	c.scanning = true
	c.logger.WithField("services", services).Info("Scanning for heart rate peripherals")
}

func (c *Central) stopScan() {
	if !c.scanning {
		return
	}
	c.scanning = false
	if err := c.radio.StopScan(); err != nil {
		c.logger.WithField("error", err).Warn("Failed to stop scan")
	}
}

// ----------------------------
// Session lifecycle
// ----------------------------

// live returns the session h refers to, or nil when h is stale.
func (c *Central) live(h Handle, event string) *Session {
	if c.session == nil || c.session.handle != h {
		c.logger.WithFields(logrus.Fields{
			"handle": h,
			"event":  event,
		}).Debug("Dropping event for stale handle")
		return nil
	}
	return c.session
}

func (c *Central) setState(s *Session, next SessionState) bool {
	from := s.state
	if err := s.transition(next); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": s.handle.Addr,
			"error":   err,
		}).Warn("Rejected session transition")
		return false
	}
	c.logger.WithFields(logrus.Fields{
		"address": s.handle.Addr,
		"from":    from,
		"to":      next,
	}).Debug("Session state changed")
	c.sink.OnSessionState(s.handle.Addr, next)
	return true
}

// expect reports whether s is in one of states, logging a rejection otherwise.
func (c *Central) expect(s *Session, event string, states ...SessionState) bool {
	for _, st := range states {
		if s.state == st {
			return true
		}
	}
	c.logger.WithFields(logrus.Fields{
		"address": s.handle.Addr,
		"state":   s.state,
		"event":   event,
	}).Warn("Rejecting event not applicable to session state")
	return false
}

func (c *Central) onDiscovered(e PeripheralDiscovered) {
	if c.session != nil {
		c.logger.WithFields(logrus.Fields{
			"address": e.Addr,
			"error":   ErrSessionActive,
		}).Debug("Ignoring advertisement")
		return
	}
	if c.adapter.State() != AdapterPoweredOn {
		c.logger.WithField("address", e.Addr).Debug("Ignoring advertisement while adapter is not powered on")
		return
	}

	c.epoch++
	h := Handle{Addr: e.Addr, Epoch: c.epoch}
	s := newSession(h, e.Name, e.RSSI)
	c.session = s

	c.logger.WithFields(logrus.Fields{
		"address": e.Addr,
		"name":    e.Name,
		"rssi":    e.RSSI,
	}).Info("Discovered peripheral")
	c.sink.OnSessionState(h.Addr, SessionDiscovered)
	if e.Name != "" {
		c.sink.OnDeviceName(e.Name)
	}

	c.stopScan()
	c.setState(s, SessionConnecting)
	if err := c.radio.Connect(h); err != nil {
		c.failConnect(s, err)
		return
	}
	c.connectTimer = c.arm(c.opts.ConnectTimeout, connectTimeout{Handle: h})
}

func (c *Central) onConnected(e PeripheralConnected) {
	s := c.live(e.Handle, e.eventName())
	if s == nil || !c.expect(s, e.eventName(), SessionConnecting) {
		return
	}
	stopTimer(&c.connectTimer)

	c.logger.WithField("address", e.Handle.Addr).Info("Connected")
	c.setState(s, SessionConnected)

	var filter []string
	if !c.opts.DiscoverAllServices {
		filter = gatt.ScanServices()
	}
	c.setState(s, SessionDiscoveringServices)
	c.discoveryTimer = c.arm(c.opts.DiscoveryTimeout, discoveryTimeout{Handle: s.handle})

	key := requestKey{kind: requestServices}
	s.track(key)
	if err := c.radio.DiscoverServices(s.handle, filter); err != nil {
		c.requestFailed(s, key, err)
	}
	c.maybeActive(s)
}

func (c *Central) onConnectFailed(e PeripheralConnectFailed) {
	s := c.live(e.Handle, e.eventName())
	if s == nil || !c.expect(s, e.eventName(), SessionConnecting) {
		return
	}
	c.failConnect(s, e.Err)
}

func (c *Central) onConnectTimeout(h Handle) {
	s := c.live(h, "connect-timeout")
	if s == nil || s.state != SessionConnecting {
		return
	}
	c.failConnect(s, ErrConnectTimeout)
}

// failConnect ends a session whose connect did not succeed and resumes scanning.
func (c *Central) failConnect(s *Session, err error) {
	c.logger.WithFields(logrus.Fields{
		"address": s.handle.Addr,
		"error":   err,
	}).Error("Failed to connect")
	c.teardown(SessionFailed, err)
	c.startScan()
}

func (c *Central) onDisconnected(e PeripheralDisconnected) {
	s := c.live(e.Handle, e.eventName())
	if s == nil {
		return
	}
	fields := logrus.Fields{"address": s.handle.Addr, "state": s.state}
	if e.Err != nil {
		fields["error"] = e.Err
	}
	c.logger.WithFields(fields).Info("Peripheral disconnected")

	// The link is already gone, so no cancel is sent.
	c.release(SessionDisconnected)
	c.startScan()
}

// teardown cancels the link and releases the session.
func (c *Central) teardown(state SessionState, cause error) {
	s := c.session
	if err := c.radio.CancelConnection(s.handle); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": s.handle.Addr,
			"error":   err,
		}).Debug("Cancel connection failed")
	}
	if cause != nil {
		c.logger.WithFields(logrus.Fields{
			"address": s.handle.Addr,
			"cause":   cause,
		}).Debug("Tearing down session")
	}
	c.release(state)
}

func (c *Central) release(state SessionState) {
	s := c.session
	stopTimer(&c.connectTimer)
	stopTimer(&c.discoveryTimer)
	s.abandonPending()
	c.setState(s, state)
	c.session = nil
}

// ----------------------------
// Discovery
// ----------------------------

func (c *Central) onServicesDiscovered(e ServicesDiscovered) {
	s := c.live(e.Handle, e.eventName())
	if s == nil || !c.expect(s, e.eventName(), SessionDiscoveringServices) {
		return
	}
	key := requestKey{kind: requestServices}
	if !s.complete(key) {
		c.logger.WithField("address", s.handle.Addr).Debug("Ignoring duplicate service discovery result")
		return
	}
	if e.Err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": s.handle.Addr,
			"error":   e.Err,
		}).Warn("Service discovery failed")
		c.maybeActive(s)
		return
	}

	for _, uuid := range gatt.NormalizeUUIDs(e.Services) {
		if gatt.ClassifyService(uuid) == gatt.ServiceUnknown {
			c.logger.WithField("service_uuid", uuid).Info("Ignoring unknown service")
			continue
		}
		s.addService(uuid)
		ck := requestKey{kind: requestCharacteristics, service: uuid}
		s.track(ck)
		if s.state == SessionDiscoveringServices {
			c.setState(s, SessionDiscoveringCharacteristics)
		}
		if err := c.radio.DiscoverCharacteristics(s.handle, uuid); err != nil {
			c.requestFailed(s, ck, err)
		}
	}
	c.maybeActive(s)
}

func (c *Central) onCharacteristicsDiscovered(e CharacteristicsDiscovered) {
	s := c.live(e.Handle, e.eventName())
	if s == nil || !c.expect(s, e.eventName(), SessionDiscoveringCharacteristics) {
		return
	}
	service := gatt.NormalizeUUID(e.Service)
	if !s.complete(requestKey{kind: requestCharacteristics, service: service}) {
		c.logger.WithField("service_uuid", service).Debug("Ignoring unrequested characteristic discovery result")
		return
	}
	if e.Err != nil {
		c.logger.WithFields(logrus.Fields{
			"address":      s.handle.Addr,
			"service_uuid": service,
			"error":        e.Err,
		}).Warn("Characteristic discovery failed")
		c.maybeActive(s)
		return
	}

	sd := s.addService(service)
	for _, info := range e.Characteristics {
		cd := sd.add(info)
		fields := logrus.Fields{
			"service_uuid": service,
			"char_uuid":    cd.UUID,
			"properties":   cd.Properties,
		}
		if cd.Role == gatt.RoleUnknown {
			c.logger.WithFields(fields).Info("Ignoring unknown characteristic")
			continue
		}
		c.logger.WithFields(fields).WithField("role", cd.Role).Debug("Discovered characteristic")

		if cd.Properties.Readable() {
			key := requestKey{kind: requestRead, service: service, characteristic: cd.UUID}
			s.track(key)
			if err := c.radio.Read(s.handle, service, cd.UUID); err != nil {
				c.requestFailed(s, key, err)
			}
		}
		if cd.Properties.Notifiable() {
			key := requestKey{kind: requestSubscribe, service: service, characteristic: cd.UUID}
			s.track(key)
			if err := c.radio.Subscribe(s.handle, service, cd.UUID); err != nil {
				c.requestFailed(s, key, err)
			}
		}
	}
	c.maybeActive(s)
}

func (c *Central) onNotifyState(e NotifyStateUpdated) {
	s := c.live(e.Handle, e.eventName())
	if s == nil {
		return
	}
	key := requestKey{kind: requestSubscribe, service: gatt.NormalizeUUID(e.Service), characteristic: gatt.NormalizeUUID(e.Characteristic)}
	if !s.complete(key) {
		return
	}
	if e.Err != nil {
		c.logger.WithFields(logrus.Fields{
			"service_uuid": key.service,
			"char_uuid":    key.characteristic,
			"error":        e.Err,
		}).Warn("Failed to enable notifications")
	} else {
		c.logger.WithField("char_uuid", key.characteristic).Debug("Notifications enabled")
	}
	c.maybeActive(s)
}

func (c *Central) onValueUpdated(e ValueUpdated) {
	s := c.live(e.Handle, e.eventName())
	if s == nil || !c.expect(s, e.eventName(), SessionDiscoveringCharacteristics, SessionActive) {
		return
	}
	defer c.maybeActive(s)

	char := gatt.NormalizeUUID(e.Characteristic)
	sd, cd, found := s.characteristic(e.Service, char)
	service := gatt.NormalizeUUID(e.Service)
	if found {
		service = sd.UUID
	}
	s.complete(requestKey{kind: requestRead, service: service, characteristic: char})

	fields := logrus.Fields{"service_uuid": service, "char_uuid": char}
	if e.Err != nil {
		c.logger.WithFields(fields).WithField("error", e.Err).Warn("Characteristic read failed")
		return
	}
	if found {
		cd.Value = append(cd.Value[:0], e.Value...)
	}

	role := gatt.Classify(char)
	if role == gatt.RoleUnknown {
		c.logger.WithFields(fields).Info("Ignoring value for unknown characteristic")
		return
	}
	reading, err := c.opts.Decoder.Decode(role, e.Value)
	if err != nil {
		c.logger.WithFields(fields).WithField("error", err).Warn("Failed to decode characteristic value")
		return
	}
	c.emit(reading)
}

func (c *Central) emit(r gatt.Reading) {
	switch v := r.(type) {
	case gatt.HeartRate:
		c.sink.OnHeartRate(uint16(v))
	case gatt.BatteryLevel:
		c.sink.OnBatteryLevel(uint8(v))
	case gatt.BodySensorLocation:
		c.logger.WithField("location", v).Info("Body sensor location")
		c.sink.OnBodyLocation(v)
	case gatt.DeviceString:
		c.logger.WithFields(logrus.Fields{
			"field": v.Field,
			"text":  v.Text,
		}).Info("Device information")
		c.sink.OnDeviceInfo(v.Field, v.Text)
	}
}

// requestFailed completes a request that the radio refused to issue.
func (c *Central) requestFailed(s *Session, k requestKey, err error) {
	s.complete(k)
	c.logger.WithFields(logrus.Fields{
		"address": s.handle.Addr,
		"request": k,
		"error":   err,
	}).Warn("Radio request failed")
}

// maybeActive moves a discovering session to Active once nothing is outstanding.
func (c *Central) maybeActive(s *Session) {
	if c.session != s || !s.state.discovering() || len(s.pending) > 0 {
		return
	}
	stopTimer(&c.discoveryTimer)
	if c.setState(s, SessionActive) {
		c.logger.WithFields(logrus.Fields{
			"address":  s.handle.Addr,
			"services": s.services.Len(),
			"elapsed":  time.Since(s.started).Round(time.Millisecond),
		}).Info("Session active")
	}
}

func (c *Central) onDiscoveryTimeout(h Handle) {
	s := c.live(h, "discovery-timeout")
	if s == nil || !s.state.discovering() {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"address":     s.handle.Addr,
		"outstanding": s.outstanding(),
		"error":       ErrDiscoveryTimeout,
	}).Warn("Abandoning outstanding discovery requests")
	s.abandonPending()
	c.maybeActive(s)
}

// ----------------------------
// Timers
// ----------------------------

// arm posts ev after d. A zero duration disables the timer.
func (c *Central) arm(d time.Duration, ev Event) *time.Timer {
	if d <= 0 {
		return nil
	}
	return time.AfterFunc(d, func() { c.Post(ev) })
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
