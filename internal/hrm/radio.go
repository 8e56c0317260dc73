package hrm

import "github.com/srg/hrmon/internal/gatt"

// Radio is the command side of a platform BLE stack. Every method must return without
// waiting for the radio; completions are reported by posting the matching Event. An error
// return means the request was not issued and no completion will follow.
type Radio interface {
	// Scan starts scanning for peripherals advertising any of services.
	Scan(services []string) error
	StopScan() error

	Connect(h Handle) error
	// CancelConnection disconnects h or aborts a connection attempt in flight.
	CancelConnection(h Handle) error

	// DiscoverServices discovers the listed services, or every service when services is nil.
	DiscoverServices(h Handle, services []string) error
	DiscoverCharacteristics(h Handle, service string) error
	Read(h Handle, service, characteristic string) error
	Subscribe(h Handle, service, characteristic string) error
}

// EventSink receives decoded readings and user-facing state. Methods are called from the
// Central's dispatch goroutine and must not call back into the Central.
type EventSink interface {
	OnDeviceName(name string)
	OnDeviceInfo(field gatt.Role, text string)
	OnBatteryLevel(percent uint8)
	OnHeartRate(bpm uint16)
	OnBodyLocation(location gatt.BodySensorLocation)
	OnAdapterWarning(kind AdapterState, deviceModel string)
	OnSessionState(addr string, state SessionState)
}

// NopSink discards every event. Embed it to implement a subset of EventSink.
type NopSink struct{}

func (NopSink) OnDeviceName(string)                    {}
func (NopSink) OnDeviceInfo(gatt.Role, string)         {}
func (NopSink) OnBatteryLevel(uint8)                   {}
func (NopSink) OnHeartRate(uint16)                     {}
func (NopSink) OnBodyLocation(gatt.BodySensorLocation) {}
func (NopSink) OnAdapterWarning(AdapterState, string)  {}
func (NopSink) OnSessionState(string, SessionState)    {}
