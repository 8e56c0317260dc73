package hrm

import (
	"github.com/srg/hrmon/internal/gatt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CharacteristicDescriptor is a discovered characteristic. Value holds the most recent
// payload only; each read or notification overwrites it.
type CharacteristicDescriptor struct {
	UUID       string
	Role       gatt.Role
	Properties gatt.Property
	Value      []byte
}

// ServiceDescriptor is a discovered service with its characteristics in discovery order.
type ServiceDescriptor struct {
	UUID            string
	Kind            gatt.ServiceKind
	characteristics *orderedmap.OrderedMap[string, *CharacteristicDescriptor]
}

func newServiceDescriptor(uuid string) *ServiceDescriptor {
	return &ServiceDescriptor{
		UUID:            uuid,
		Kind:            gatt.ClassifyService(uuid),
		characteristics: orderedmap.New[string, *CharacteristicDescriptor](),
	}
}

// add records a discovered characteristic, replacing an earlier entry with the same UUID
// in place.
func (s *ServiceDescriptor) add(info CharacteristicInfo) *CharacteristicDescriptor {
	uuid := gatt.NormalizeUUID(info.UUID)
	cd := &CharacteristicDescriptor{
		UUID:       uuid,
		Role:       gatt.Classify(uuid),
		Properties: info.Properties,
	}
	s.characteristics.Set(uuid, cd)
	return cd
}

// Characteristic looks up a characteristic by UUID in any accepted form.
func (s *ServiceDescriptor) Characteristic(uuid string) (*CharacteristicDescriptor, bool) {
	return s.characteristics.Get(gatt.NormalizeUUID(uuid))
}

// Characteristics returns the characteristics in discovery order.
func (s *ServiceDescriptor) Characteristics() []*CharacteristicDescriptor {
	out := make([]*CharacteristicDescriptor, 0, s.characteristics.Len())
	for pair := s.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
