// Package radio holds what the platform backends share: error normalization, adapter
// state inference and the advertisement filter.
package radio

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
)

var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("bluetooth LE is not supported on this host")
	ErrUnauthorized = errors.New("bluetooth access is not authorized")
	ErrNotConnected = errors.New("peripheral not connected")
	ErrNoAdapter    = errors.New("bluetooth adapter not ready")

	// ErrUnknownAttribute is returned for a service or characteristic the backend has not
	// discovered on the link.
	ErrUnknownAttribute = errors.New("attribute not discovered")
)

// Poster receives completion events. *hrm.Central implements it.
type Poster interface {
	Post(ev hrm.Event)
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ev hrm.Event)

func (f PosterFunc) Post(ev hrm.Event) { f(ev) }

// cbStatePattern matches CoreBluetooth's "central manager has invalid state: have=4 want=5".
var cbStatePattern = regexp.MustCompile(`have=(\d+)`)

// NormalizeError maps library error strings to the sentinels above, wrapping the original.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	switch StateFromError(err) {
	case hrm.AdapterPoweredOff:
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case hrm.AdapterUnsupported:
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case hrm.AdapterUnauthorized:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "device not connected"), strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// StateFromError infers the adapter state an error implies. AdapterUnknown means the
// error says nothing about the adapter.
func StateFromError(err error) hrm.AdapterState {
	if err == nil {
		return hrm.AdapterUnknown
	}
	switch {
	case errors.Is(err, ErrBluetoothOff):
		return hrm.AdapterPoweredOff
	case errors.Is(err, ErrUnsupported):
		return hrm.AdapterUnsupported
	case errors.Is(err, ErrUnauthorized):
		return hrm.AdapterUnauthorized
	}

	msg := strings.ToLower(err.Error())
	if m := cbStatePattern.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n >= 0 && n <= int(hrm.AdapterPoweredOn) {
			return hrm.AdapterState(n)
		}
	}
	switch {
	case strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "powered off"),
		strings.Contains(msg, "rfkill"),
		strings.Contains(msg, "network is down"):
		return hrm.AdapterPoweredOff
	case strings.Contains(msg, "no devices available"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "not supported"):
		return hrm.AdapterUnsupported
	case strings.Contains(msg, "operation not permitted"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "not authorized"):
		return hrm.AdapterUnauthorized
	default:
		return hrm.AdapterUnknown
	}
}

// MatchesFilter reports whether an advertisement listing advertised should be reported for
// a scan filtered to filter. An empty filter matches everything.
func MatchesFilter(advertised, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, a := range advertised {
		na := gatt.NormalizeUUID(a)
		for _, f := range filter {
			if na == gatt.NormalizeUUID(f) {
				return true
			}
		}
	}
	return false
}

// Key identifies a characteristic on a link.
func Key(service, characteristic string) string {
	return gatt.NormalizeUUID(service) + "/" + gatt.NormalizeUUID(characteristic)
}
