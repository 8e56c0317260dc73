package hrm

import (
	"encoding/hex"

	"github.com/srg/hrmon/internal/gatt"
)

// Snapshot is a point-in-time copy of the Central's state, safe to marshal.
type Snapshot struct {
	Adapter  AdapterState     `json:"adapter"`
	Scanning bool             `json:"scanning"`
	Session  *SessionSnapshot `json:"session,omitempty"`
}

type SessionSnapshot struct {
	Address  string            `json:"address"`
	Epoch    uint64            `json:"epoch"`
	Name     string            `json:"name,omitempty"`
	RSSI     int               `json:"rssi"`
	State    SessionState      `json:"state"`
	Pending  []string          `json:"pending,omitempty"`
	Services []ServiceSnapshot `json:"services"`
}

type ServiceSnapshot struct {
	UUID            string                   `json:"uuid"`
	Name            string                   `json:"name,omitempty"`
	Characteristics []CharacteristicSnapshot `json:"characteristics"`
}

type CharacteristicSnapshot struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	Properties string `json:"properties"`
	Value      string `json:"value,omitempty"` // hex
}

// Snapshot copies the current adapter and session state.
func (c *Central) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Adapter: c.adapter.State(), Scanning: c.scanning}
	s := c.session
	if s == nil {
		return snap
	}

	ss := &SessionSnapshot{
		Address:  s.handle.Addr,
		Epoch:    s.handle.Epoch,
		Name:     s.name,
		RSSI:     s.rssi,
		State:    s.state,
		Pending:  s.outstanding(),
		Services: []ServiceSnapshot{},
	}
	for _, sd := range s.Services() {
		svc := ServiceSnapshot{UUID: sd.UUID, Name: gatt.KnownName(sd.UUID), Characteristics: []CharacteristicSnapshot{}}
		for _, cd := range sd.Characteristics() {
			svc.Characteristics = append(svc.Characteristics, CharacteristicSnapshot{
				UUID:       cd.UUID,
				Name:       gatt.KnownName(cd.UUID),
				Role:       cd.Role.String(),
				Properties: cd.Properties.String(),
				Value:      hex.EncodeToString(cd.Value),
			})
		}
		ss.Services = append(ss.Services, svc)
	}
	snap.Session = ss
	return snap
}
