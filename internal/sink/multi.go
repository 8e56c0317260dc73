package sink

import (
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
)

// Multi forwards every event to each sink in order.
type Multi []hrm.EventSink

var _ hrm.EventSink = Multi(nil)

func (m Multi) OnDeviceName(name string) {
	for _, s := range m {
		s.OnDeviceName(name)
	}
}

func (m Multi) OnDeviceInfo(field gatt.Role, text string) {
	for _, s := range m {
		s.OnDeviceInfo(field, text)
	}
}

func (m Multi) OnBatteryLevel(percent uint8) {
	for _, s := range m {
		s.OnBatteryLevel(percent)
	}
}

func (m Multi) OnHeartRate(bpm uint16) {
	for _, s := range m {
		s.OnHeartRate(bpm)
	}
}

func (m Multi) OnBodyLocation(location gatt.BodySensorLocation) {
	for _, s := range m {
		s.OnBodyLocation(location)
	}
}

func (m Multi) OnAdapterWarning(kind hrm.AdapterState, deviceModel string) {
	for _, s := range m {
		s.OnAdapterWarning(kind, deviceModel)
	}
}

func (m Multi) OnSessionState(addr string, state hrm.SessionState) {
	for _, s := range m {
		s.OnSessionState(addr, state)
	}
}
