package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/radio"
	"github.com/srg/hrmon/pkg/config"
	"github.com/stretchr/testify/suite"
)

const TestDeviceAddress = "00:00:00:00:00:01"

// CommandTestSuite replaces the radio backend with a scripted peripheral.
type CommandTestSuite struct {
	suite.Suite

	Logger  *logrus.Logger
	Backend *scriptedBackend

	origBackend func(*config.Config, *logrus.Logger) (backend, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Logger = logrus.New()
	s.Logger.SetOutput(new(bytes.Buffer))
	s.Logger.SetLevel(logrus.DebugLevel)

	s.Backend = &scriptedBackend{name: "Polar H10", bpm: 72}
	s.origBackend = newBackend
	newBackend = func(*config.Config, *logrus.Logger) (backend, error) {
		return s.Backend, nil
	}
	resetMonitorFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	newBackend = s.origBackend
	resetMonitorFlags()
}

func resetMonitorFlags() {
	monitorBackend, monitorWebSocket, monitorScript = "", "", ""
	monitorPTY, monitorProgress, monitorDumpOnExit = false, false, false
	monitorDiscoverAll, monitorLittleEndian = false, false
	decodeLittleEndian = false
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptedBackend answers every command with the completion a heart rate strap would
// send: one heart rate service with a notifiable measurement characteristic.
type scriptedBackend struct {
	name string
	bpm  uint8

	mu    sync.Mutex
	post  radio.Poster
	scans int
}

var _ backend = (*scriptedBackend)(nil)

func (b *scriptedBackend) Start(_ context.Context, p radio.Poster) {
	b.mu.Lock()
	b.post = p
	b.mu.Unlock()
	p.Post(hrm.AdapterStateChanged{State: hrm.AdapterPoweredOn})
}

func (b *scriptedBackend) poster() radio.Poster {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.post
}

func (b *scriptedBackend) Scans() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scans
}

func (b *scriptedBackend) Scan([]string) error {
	b.mu.Lock()
	b.scans++
	b.mu.Unlock()
	b.poster().Post(hrm.PeripheralDiscovered{Addr: TestDeviceAddress, Name: b.name, RSSI: -50})
	return nil
}

func (b *scriptedBackend) StopScan() error { return nil }

func (b *scriptedBackend) Connect(h hrm.Handle) error {
	b.poster().Post(hrm.PeripheralConnected{Handle: h})
	return nil
}

func (b *scriptedBackend) CancelConnection(hrm.Handle) error { return nil }

func (b *scriptedBackend) DiscoverServices(h hrm.Handle, _ []string) error {
	b.poster().Post(hrm.ServicesDiscovered{Handle: h, Services: []string{"180d"}})
	return nil
}

func (b *scriptedBackend) DiscoverCharacteristics(h hrm.Handle, service string) error {
	b.poster().Post(hrm.CharacteristicsDiscovered{
		Handle:  h,
		Service: service,
		Characteristics: []hrm.CharacteristicInfo{
			{UUID: "2a37", Properties: gatt.PropertyNotify},
		},
	})
	return nil
}

func (b *scriptedBackend) Read(hrm.Handle, string, string) error {
	return nil
}

func (b *scriptedBackend) Subscribe(h hrm.Handle, service, char string) error {
	p := b.poster()
	p.Post(hrm.NotifyStateUpdated{Handle: h, Service: service, Characteristic: char})
	p.Post(hrm.ValueUpdated{Handle: h, Service: service, Characteristic: char, Value: []byte{0x00, b.bpm}})
	return nil
}
