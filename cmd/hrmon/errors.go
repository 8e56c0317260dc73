package main

import (
	"errors"

	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/radio"
)

// Command-level errors
var (
	// ErrUnknownCharacteristic is returned by decode for a UUID the registry does not route.
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

var userMessages = []struct {
	err error
	msg string
}{
	{radio.ErrBluetoothOff, "Bluetooth is turned off. Turn it on and try again."},
	{radio.ErrUnsupported, "Bluetooth LE is not supported on this host."},
	{radio.ErrUnauthorized, "Bluetooth access is not authorized for this program."},
	{radio.ErrNoAdapter, "no Bluetooth adapter is available."},
	{hrm.ErrConnectTimeout, "the heart rate monitor did not accept the connection in time."},
	{gatt.ErrEmpty, "the payload is empty."},
	{gatt.ErrTruncated, "the payload is too short for its declared format."},
	{gatt.ErrNonASCII, "the payload is not ASCII text."},
	{gatt.ErrOutOfRange, "the value is out of range."},
}

// FormatUserError maps well-known errors to a short explanation followed by the detail.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			if err.Error() == m.err.Error() {
				return m.msg
			}
			return m.msg + " (" + err.Error() + ")"
		}
	}
	return err.Error()
}
