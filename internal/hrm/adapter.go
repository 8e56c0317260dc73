package hrm

import (
	"fmt"
	"strings"
)

// AdapterState is the power/availability state of the central radio. Values follow the
// CoreBluetooth CBManagerState numbering.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterPoweredOn
)

var adapterStateNames = [...]string{
	AdapterUnknown:      "Unknown",
	AdapterResetting:    "Resetting",
	AdapterUnsupported:  "Unsupported",
	AdapterUnauthorized: "Unauthorized",
	AdapterPoweredOff:   "PoweredOff",
	AdapterPoweredOn:    "PoweredOn",
}

func (s AdapterState) String() string {
	if s >= 0 && int(s) < len(adapterStateNames) {
		return adapterStateNames[s]
	}
	return fmt.Sprintf("AdapterState(%d)", int(s))
}

func (s AdapterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseAdapterState parses a state name case-insensitively.
func ParseAdapterState(name string) (AdapterState, error) {
	for i, n := range adapterStateNames {
		if strings.EqualFold(n, name) {
			return AdapterState(i), nil
		}
	}
	return AdapterUnknown, fmt.Errorf("unknown adapter state %q", name)
}

// Warns reports whether entering s is surfaced to the user as an adapter warning.
func (s AdapterState) Warns() bool {
	return s == AdapterUnsupported || s == AdapterPoweredOff
}

// AdapterTransition describes one applied state change.
type AdapterTransition struct {
	From AdapterState
	To   AdapterState
}

// Entered reports whether the transition entered s from a different state.
func (t AdapterTransition) Entered(s AdapterState) bool {
	return t.To == s && t.From != s
}

// Left reports whether the transition left s.
func (t AdapterTransition) Left(s AdapterState) bool {
	return t.From == s && t.To != s
}

// Adapter tracks the radio state. Every state is resident: the machine never terminates
// and re-evaluates on each platform notification.
type Adapter struct {
	state AdapterState
}

func (a *Adapter) State() AdapterState {
	return a.state
}

// Apply records the new state. ok is false when the state did not change.
func (a *Adapter) Apply(next AdapterState) (t AdapterTransition, ok bool) {
	t = AdapterTransition{From: a.state, To: next}
	if next == a.state {
		return t, false
	}
	a.state = next
	return t, true
}
