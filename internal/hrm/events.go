package hrm

import (
	"fmt"

	"github.com/srg/hrmon/internal/gatt"
)

// Handle identifies one peripheral for the lifetime of one session.
type Handle struct {
	Addr  string
	Epoch uint64
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.Addr, h.Epoch)
}

// IsZero reports whether h was never assigned to a session.
func (h Handle) IsZero() bool {
	return h.Addr == "" && h.Epoch == 0
}

// Event is an inbound notification from the platform radio stack.
type Event interface {
	eventName() string
}

// AdapterStateChanged reports a new radio power/availability state.
type AdapterStateChanged struct {
	State AdapterState
}

// PeripheralDiscovered reports an advertisement that matched the scan filter.
type PeripheralDiscovered struct {
	Addr     string
	Name     string
	RSSI     int
	Services []string
}

type PeripheralConnected struct {
	Handle Handle
}

type PeripheralConnectFailed struct {
	Handle Handle
	Err    error
}

// PeripheralDisconnected reports a link loss. Err is nil for a clean disconnect.
type PeripheralDisconnected struct {
	Handle Handle
	Err    error
}

// ServicesDiscovered completes a DiscoverServices request.
type ServicesDiscovered struct {
	Handle   Handle
	Services []string
	Err      error
}

// CharacteristicInfo is one characteristic returned by discovery.
type CharacteristicInfo struct {
	UUID       string
	Properties gatt.Property
}

// CharacteristicsDiscovered completes a DiscoverCharacteristics request for one service.
type CharacteristicsDiscovered struct {
	Handle          Handle
	Service         string
	Characteristics []CharacteristicInfo
	Err             error
}

// NotifyStateUpdated completes a Subscribe request.
type NotifyStateUpdated struct {
	Handle         Handle
	Service        string
	Characteristic string
	Err            error
}

// ValueUpdated carries a characteristic value, either the result of a Read or a
// notification. A pending read for the same characteristic is completed by it.
type ValueUpdated struct {
	Handle         Handle
	Service        string
	Characteristic string
	Value          []byte
	Err            error
}

type connectTimeout struct {
	Handle Handle
}

type discoveryTimeout struct {
	Handle Handle
}

func (AdapterStateChanged) eventName() string       { return "adapter-state-changed" }
func (PeripheralDiscovered) eventName() string      { return "peripheral-discovered" }
func (PeripheralConnected) eventName() string       { return "peripheral-connected" }
func (PeripheralConnectFailed) eventName() string   { return "peripheral-connect-failed" }
func (PeripheralDisconnected) eventName() string    { return "peripheral-disconnected" }
func (ServicesDiscovered) eventName() string        { return "services-discovered" }
func (CharacteristicsDiscovered) eventName() string { return "characteristics-discovered" }
func (NotifyStateUpdated) eventName() string        { return "notify-state-updated" }
func (ValueUpdated) eventName() string              { return "characteristic-value-updated" }
func (connectTimeout) eventName() string            { return "connect-timeout" }
func (discoveryTimeout) eventName() string          { return "discovery-timeout" }
