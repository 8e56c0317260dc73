package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func changedSignal(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propertiesChanged,
		Body: []interface{}{iface, props, []string{}},
	}
}

func TestAdapterPath(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), AdapterPath(""))
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), AdapterPath("hci1"))
}

func TestPowerChange(t *testing.T) {
	path := AdapterPath("hci0")

	tests := []struct {
		name        string
		sig         *dbus.Signal
		wantPowered bool
		wantOK      bool
	}{
		{
			name:        "powered off",
			sig:         changedSignal(path, adapterInterface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}),
			wantPowered: false,
			wantOK:      true,
		},
		{
			name:        "powered on with other properties",
			sig:         changedSignal(path, adapterInterface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true), "Powered": dbus.MakeVariant(true)}),
			wantPowered: true,
			wantOK:      true,
		},
		{
			name: "no power property",
			sig:  changedSignal(path, adapterInterface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}),
		},
		{
			name: "other adapter",
			sig:  changedSignal(AdapterPath("hci1"), adapterInterface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "device interface",
			sig:  changedSignal(path, "org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "wrong type",
			sig:  changedSignal(path, adapterInterface, map[string]dbus.Variant{"Powered": dbus.MakeVariant("yes")}),
		},
		{
			name: "short body",
			sig:  &dbus.Signal{Path: path, Name: propertiesChanged, Body: []interface{}{adapterInterface}},
		},
		{
			name: "nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			powered, ok := PowerChange(tt.sig, path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPowered, powered)
		})
	}
}
