package sink

import (
	"bytes"
	"testing"

	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWithColors(&buf, false)

	c.OnAdapterWarning(hrm.AdapterPoweredOff, "MacBook Pro")
	c.OnSessionState("c0:ff:ee", hrm.SessionConnecting)
	c.OnDeviceName("Polar H10 A1B2")
	c.OnDeviceInfo(gatt.RoleDeviceManufacturer, "Polar Electro Oy")
	c.OnDeviceInfo(gatt.RoleDeviceModel, "H10")
	c.OnBodyLocation(gatt.LocationChest)
	c.OnBatteryLevel(85)
	c.OnHeartRate(72)
	c.OnHeartRate(0)
	c.OnHeartRate(74)

	testutils.NewTextAsserter(t).Assert(buf.String(), `
Bluetooth is turned off on MacBook Pro. Turn it on to connect to the heart rate monitor.
[c0:ff:ee] Connecting
Device: Polar H10 A1B2
Manufacturer: Polar Electro Oy
Model: H10
Sensor location: Chest
Battery: 85%
Heart rate: 72 bpm #1
Heart rate: -- bpm (no contact)
Heart rate: 74 bpm #2
`)
}

func TestConsoleColors(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleWithColors(&buf, true).OnBatteryLevel(50)
	assert.Contains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "50%")
}

func TestNewConsoleDetectsNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf).OnHeartRate(60)
	assert.Equal(t, "Heart rate: 60 bpm #1\n", buf.String())
}

func TestAdapterWarning(t *testing.T) {
	tests := []struct {
		kind  hrm.AdapterState
		model string
		want  string
	}{
		{hrm.AdapterUnsupported, "iPod touch", "Bluetooth LE is not supported on iPod touch."},
		{hrm.AdapterPoweredOff, "", "Bluetooth is turned off on this device. Turn it on to connect to the heart rate monitor."},
		{hrm.AdapterUnauthorized, "pi", "Bluetooth is unavailable on pi (Unauthorized)."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AdapterWarning(tt.kind, tt.model))
	}
}

type countingSink struct {
	hrm.NopSink
	beats []uint16
	names []string
}

func (s *countingSink) OnHeartRate(bpm uint16)   { s.beats = append(s.beats, bpm) }
func (s *countingSink) OnDeviceName(name string) { s.names = append(s.names, name) }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, b}

	m.OnHeartRate(70)
	m.OnDeviceName("strap")
	m.OnBatteryLevel(10)
	m.OnSessionState("x", hrm.SessionActive)

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, []uint16{70}, s.beats)
		assert.Equal(t, []string{"strap"}, s.names)
	}
}
