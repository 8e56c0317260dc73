package hrm

import (
	"fmt"
	"slices"
	"time"

	"github.com/srg/hrmon/internal/gatt"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SessionState is the lifecycle state of a Connection Session.
type SessionState int

const (
	SessionDiscovered SessionState = iota
	SessionConnecting
	SessionConnected
	SessionDiscoveringServices
	SessionDiscoveringCharacteristics
	SessionActive
	SessionDisconnected
	SessionFailed
)

var sessionStateNames = [...]string{
	SessionDiscovered:                 "Discovered",
	SessionConnecting:                 "Connecting",
	SessionConnected:                  "Connected",
	SessionDiscoveringServices:        "DiscoveringServices",
	SessionDiscoveringCharacteristics: "DiscoveringCharacteristics",
	SessionActive:                     "Active",
	SessionDisconnected:               "Disconnected",
	SessionFailed:                     "Failed",
}

func (s SessionState) String() string {
	if s >= 0 && int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s is Disconnected or Failed.
func (s SessionState) Terminal() bool {
	return s == SessionDisconnected || s == SessionFailed
}

// discovering reports whether s still accumulates discovery completions.
func (s SessionState) discovering() bool {
	return s == SessionDiscoveringServices || s == SessionDiscoveringCharacteristics
}

// sessionTransitions is the only source of allowed state changes. Teardown to a terminal
// state is allowed from every non-terminal state.
var sessionTransitions = map[SessionState][]SessionState{
	SessionDiscovered:                 {SessionConnecting},
	SessionConnecting:                 {SessionConnected},
	SessionConnected:                  {SessionDiscoveringServices},
	SessionDiscoveringServices:        {SessionDiscoveringCharacteristics, SessionActive},
	SessionDiscoveringCharacteristics: {SessionActive},
	SessionActive:                     {},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to SessionState) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return slices.Contains(sessionTransitions[from], to)
}

type requestKind int

const (
	requestServices requestKind = iota
	requestCharacteristics
	requestRead
	requestSubscribe
)

func (k requestKind) String() string {
	switch k {
	case requestServices:
		return "discover-services"
	case requestCharacteristics:
		return "discover-characteristics"
	case requestRead:
		return "read"
	case requestSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// requestKey identifies one outstanding radio request of a session.
type requestKey struct {
	kind           requestKind
	service        string
	characteristic string
}

func (k requestKey) String() string {
	switch k.kind {
	case requestServices:
		return k.kind.String()
	case requestCharacteristics:
		return fmt.Sprintf("%s %s", k.kind, k.service)
	default:
		return fmt.Sprintf("%s %s/%s", k.kind, k.service, k.characteristic)
	}
}

// Session is the state of one accepted peripheral. It owns the Handle until it reaches a
// terminal state.
type Session struct {
	handle   Handle
	name     string
	rssi     int
	state    SessionState
	started  time.Time
	services *orderedmap.OrderedMap[string, *ServiceDescriptor]
	pending  map[requestKey]struct{}
}

func newSession(h Handle, name string, rssi int) *Session {
	return &Session{
		handle:   h,
		name:     name,
		rssi:     rssi,
		state:    SessionDiscovered,
		started:  time.Now(),
		services: orderedmap.New[string, *ServiceDescriptor](),
		pending:  make(map[requestKey]struct{}),
	}
}

func (s *Session) Handle() Handle      { return s.handle }
func (s *Session) Name() string        { return s.name }
func (s *Session) State() SessionState { return s.state }

// transition moves the session to next if the table allows it.
func (s *Session) transition(next SessionState) error {
	if !CanTransition(s.state, next) {
		return &TransitionError{From: s.state, To: next}
	}
	s.state = next
	return nil
}

func (s *Session) track(k requestKey) {
	s.pending[k] = struct{}{}
}

// complete removes k from the outstanding set and reports whether it was outstanding.
func (s *Session) complete(k requestKey) bool {
	if _, ok := s.pending[k]; !ok {
		return false
	}
	delete(s.pending, k)
	return true
}

// outstanding lists the pending requests in a stable order for logging.
func (s *Session) outstanding() []string {
	out := make([]string, 0, len(s.pending))
	for k := range s.pending {
		out = append(out, k.String())
	}
	slices.Sort(out)
	return out
}

func (s *Session) abandonPending() {
	clear(s.pending)
}

func (s *Session) service(uuid string) (*ServiceDescriptor, bool) {
	return s.services.Get(gatt.NormalizeUUID(uuid))
}

func (s *Session) addService(uuid string) *ServiceDescriptor {
	u := gatt.NormalizeUUID(uuid)
	if sd, ok := s.services.Get(u); ok {
		return sd
	}
	sd := newServiceDescriptor(u)
	s.services.Set(u, sd)
	return sd
}

// characteristic finds a characteristic descriptor and its service. An empty service
// searches all services.
func (s *Session) characteristic(service, uuid string) (*ServiceDescriptor, *CharacteristicDescriptor, bool) {
	if service != "" {
		sd, ok := s.service(service)
		if !ok {
			return nil, nil, false
		}
		cd, ok := sd.Characteristic(uuid)
		return sd, cd, ok
	}
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		if cd, ok := pair.Value.Characteristic(uuid); ok {
			return pair.Value, cd, true
		}
	}
	return nil, nil, false
}

// Services returns the discovered services in discovery order.
func (s *Session) Services() []*ServiceDescriptor {
	out := make([]*ServiceDescriptor, 0, s.services.Len())
	for pair := s.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
