package testutils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run of a Central against a MockRadio.
type Scenario struct {
	Name    string          `yaml:"name"`
	Options ScenarioOptions `yaml:"options,omitempty"`

	// RadioErrors makes a Radio method fail, keyed by method name.
	RadioErrors map[string]string `yaml:"radio_errors,omitempty"`

	Steps []ScenarioStep `yaml:"steps"`

	// ExpectedEvents lists the RecordingSink lines, one per line.
	ExpectedEvents string `yaml:"expected_events"`

	// ExpectedCalls counts Radio method calls, keyed by method name.
	ExpectedCalls map[string]int `yaml:"expected_calls,omitempty"`

	// ExpectedState is the final session state, or "none" when no session is live.
	ExpectedState string `yaml:"expected_state,omitempty"`
}

type ScenarioOptions struct {
	DeviceModel         string `yaml:"device_model,omitempty"`
	DiscoverAllServices bool   `yaml:"discover_all_services,omitempty"`
	LittleEndian        bool   `yaml:"little_endian,omitempty"`
}

// ScenarioStep holds exactly one inbound event.
type ScenarioStep struct {
	Adapter         string               `yaml:"adapter,omitempty"`
	Discovered      *DiscoveredStep      `yaml:"discovered,omitempty"`
	Connected       *HandleRef           `yaml:"connected,omitempty"`
	ConnectFailed   *ErrorStep           `yaml:"connect_failed,omitempty"`
	Disconnected    *ErrorStep           `yaml:"disconnected,omitempty"`
	Services        *ServicesStep        `yaml:"services,omitempty"`
	Characteristics *CharacteristicsStep `yaml:"characteristics,omitempty"`
	Notify          *CharacteristicStep  `yaml:"notify,omitempty"`
	Value           *ValueStep           `yaml:"value,omitempty"`
}

// HandleRef addresses a session. Zero fields default to the live session, or the last
// session seen when none is live.
type HandleRef struct {
	Addr  string `yaml:"addr,omitempty"`
	Epoch uint64 `yaml:"epoch,omitempty"`
}

type DiscoveredStep struct {
	Addr string `yaml:"addr"`
	Name string `yaml:"name,omitempty"`
	RSSI int    `yaml:"rssi,omitempty"`
}

type ErrorStep struct {
	HandleRef `yaml:",inline"`
	Error     string `yaml:"error,omitempty"`
}

type ServicesStep struct {
	HandleRef `yaml:",inline"`
	UUIDs     []string `yaml:"uuids"`
	Error     string   `yaml:"error,omitempty"`
}

type CharacteristicStepEntry struct {
	UUID       string `yaml:"uuid"`
	Properties string `yaml:"properties"`
}

type CharacteristicsStep struct {
	HandleRef       `yaml:",inline"`
	Service         string                    `yaml:"service"`
	Characteristics []CharacteristicStepEntry `yaml:"chars"`
	Error           string                    `yaml:"error,omitempty"`
}

type CharacteristicStep struct {
	HandleRef `yaml:",inline"`
	Service   string `yaml:"service"`
	Char      string `yaml:"char"`
	Error     string `yaml:"error,omitempty"`
}

type ValueStep struct {
	CharacteristicStep `yaml:",inline"`
	Hex                string `yaml:"hex,omitempty"`
	Text               string `yaml:"text,omitempty"`
}

// CentralSuite runs YAML scenarios against a fresh Central per scenario.
type CentralSuite struct {
	suite.Suite
	Logger *logrus.Logger
}

func (s *CentralSuite) SetupSuite() {
	s.Logger = logrus.New()
	s.Logger.SetLevel(logrus.DebugLevel)
}

// RunScenariosFromFile runs every scenario in a YAML file as a subtest.
func (s *CentralSuite) RunScenariosFromFile(path string) {
	data, err := os.ReadFile(path)
	s.Require().NoError(err, "MUST read scenario file")

	var scenarios []Scenario
	s.Require().NoError(yaml.Unmarshal(data, &scenarios), "MUST parse scenario file")
	s.Require().NotEmpty(scenarios)

	for _, sc := range scenarios {
		s.Run(sc.Name, func() {
			s.RunScenario(sc)
		})
	}
}

// RunScenario plays the steps and checks every expectation the scenario declares.
func (s *CentralSuite) RunScenario(sc Scenario) {
	radio := NewMockRadio()
	for method, msg := range sc.RadioErrors {
		radio.On(method, anyArgs(method)...).Return(errors.New(msg))
	}
	radio.AllowAll()

	sink := NewRecordingSink()
	central := hrm.NewCentral(radio, sink, hrm.Options{
		Logger:              s.Logger,
		DeviceModel:         sc.Options.DeviceModel,
		DiscoverAllServices: sc.Options.DiscoverAllServices,
		Decoder:             gatt.Decoder{HeartRateLittleEndian: sc.Options.LittleEndian},
	})

	var last hrm.Handle
	for i, step := range sc.Steps {
		ev, err := step.event(func(ref HandleRef) hrm.Handle {
			h := last
			if ref.Addr != "" {
				h.Addr = ref.Addr
			}
			if ref.Epoch != 0 {
				h.Epoch = ref.Epoch
			}
			return h
		})
		s.Require().NoError(err, "step %d", i)
		central.Handle(ev)

		if snap := central.Snapshot(); snap.Session != nil {
			last = hrm.Handle{Addr: snap.Session.Address, Epoch: snap.Session.Epoch}
		}
	}

	NewTextAsserter(s.T()).Assert(sink.String(), sc.ExpectedEvents)

	for method, n := range sc.ExpectedCalls {
		radio.AssertNumberOfCalls(s.T(), method, n)
	}

	if sc.ExpectedState != "" {
		snap := central.Snapshot()
		if sc.ExpectedState == "none" {
			s.Nil(snap.Session, "no session expected")
		} else if s.NotNil(snap.Session, "session expected") {
			s.Equal(sc.ExpectedState, snap.Session.State.String())
		}
	}
}

func anyArgs(method string) []interface{} {
	n := map[string]int{
		"Scan":                    1,
		"StopScan":                0,
		"Connect":                 1,
		"CancelConnection":        1,
		"DiscoverServices":        2,
		"DiscoverCharacteristics": 2,
		"Read":                    3,
		"Subscribe":               3,
	}[method]
	args := make([]interface{}, n)
	for i := range args {
		args[i] = mock.Anything
	}
	return args
}

func stepError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func (st ScenarioStep) event(resolve func(HandleRef) hrm.Handle) (hrm.Event, error) {
	switch {
	case st.Adapter != "":
		state, err := hrm.ParseAdapterState(st.Adapter)
		if err != nil {
			return nil, err
		}
		return hrm.AdapterStateChanged{State: state}, nil
	case st.Discovered != nil:
		return hrm.PeripheralDiscovered{Addr: st.Discovered.Addr, Name: st.Discovered.Name, RSSI: st.Discovered.RSSI}, nil
	case st.Connected != nil:
		return hrm.PeripheralConnected{Handle: resolve(*st.Connected)}, nil
	case st.ConnectFailed != nil:
		return hrm.PeripheralConnectFailed{Handle: resolve(st.ConnectFailed.HandleRef), Err: errors.New(st.ConnectFailed.Error)}, nil
	case st.Disconnected != nil:
		return hrm.PeripheralDisconnected{Handle: resolve(st.Disconnected.HandleRef), Err: stepError(st.Disconnected.Error)}, nil
	case st.Services != nil:
		return hrm.ServicesDiscovered{Handle: resolve(st.Services.HandleRef), Services: st.Services.UUIDs, Err: stepError(st.Services.Error)}, nil
	case st.Characteristics != nil:
		c := st.Characteristics
		ev := hrm.CharacteristicsDiscovered{Handle: resolve(c.HandleRef), Service: c.Service, Err: stepError(c.Error)}
		for _, entry := range c.Characteristics {
			props, err := gatt.ParseProperty(entry.Properties)
			if err != nil {
				return nil, err
			}
			ev.Characteristics = append(ev.Characteristics, hrm.CharacteristicInfo{UUID: entry.UUID, Properties: props})
		}
		return ev, nil
	case st.Notify != nil:
		n := st.Notify
		return hrm.NotifyStateUpdated{Handle: resolve(n.HandleRef), Service: n.Service, Characteristic: n.Char, Err: stepError(n.Error)}, nil
	case st.Value != nil:
		v := st.Value
		value := []byte(v.Text)
		if v.Hex != "" {
			b, err := hex.DecodeString(strings.ReplaceAll(v.Hex, " ", ""))
			if err != nil {
				return nil, fmt.Errorf("value hex: %w", err)
			}
			value = b
		}
		return hrm.ValueUpdated{Handle: resolve(v.HandleRef), Service: v.Service, Characteristic: v.Char, Value: value, Err: stepError(v.Error)}, nil
	default:
		return nil, errors.New("scenario step has no event")
	}
}
