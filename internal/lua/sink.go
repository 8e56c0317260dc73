package lua

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
)

// Hook names a script may define.
const (
	HookDeviceName     = "on_device_name"
	HookDeviceInfo     = "on_device_info"
	HookBattery        = "on_battery"
	HookHeartRate      = "on_heart_rate"
	HookBodyLocation   = "on_body_location"
	HookAdapterWarning = "on_adapter_warning"
	HookSessionState   = "on_session_state"
)

// Sink forwards events to script hooks. Hook failures are logged and do not stop
// later calls.
type Sink struct {
	engine *Engine
	logger *logrus.Logger
}

var _ hrm.EventSink = (*Sink)(nil)

func NewSink(engine *Engine, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{engine: engine, logger: logger}
}

func (s *Sink) call(hook string, args ...any) {
	if err := s.engine.CallHook(hook, args...); err != nil {
		s.logger.WithFields(logrus.Fields{
			"hook":  hook,
			"error": err,
		}).Warn("Lua hook failed")
	}
}

func (s *Sink) OnDeviceName(name string) {
	s.call(HookDeviceName, name)
}

// OnDeviceInfo passes the field as "manufacturer" or "model".
func (s *Sink) OnDeviceInfo(field gatt.Role, text string) {
	name := "manufacturer"
	if field == gatt.RoleDeviceModel {
		name = "model"
	}
	s.call(HookDeviceInfo, name, text)
}

func (s *Sink) OnBatteryLevel(percent uint8) {
	s.call(HookBattery, percent)
}

func (s *Sink) OnHeartRate(bpm uint16) {
	s.call(HookHeartRate, bpm)
}

func (s *Sink) OnBodyLocation(location gatt.BodySensorLocation) {
	s.call(HookBodyLocation, location.String(), int(location))
}

func (s *Sink) OnAdapterWarning(kind hrm.AdapterState, deviceModel string) {
	s.call(HookAdapterWarning, kind.String(), deviceModel)
}

func (s *Sink) OnSessionState(addr string, state hrm.SessionState) {
	s.call(HookSessionState, map[string]any{
		"address":  addr,
		"state":    state.String(),
		"terminal": state.Terminal(),
	})
}
