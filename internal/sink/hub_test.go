package sink

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/internal/testutils"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type HubSuite struct {
	suite.Suite

	hub    *Hub
	server *httptest.Server
}

func (s *HubSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.hub = NewHub(logger)
	s.hub.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	s.server = httptest.NewServer(s.hub)
}

func (s *HubSuite) TearDownTest() {
	s.server.Close()
}

func (s *HubSuite) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *HubSuite) read(conn *websocket.Conn, n int) string {
	var msgs []string
	for i := 0; i < n; i++ {
		s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
		_, data, err := conn.ReadMessage()
		s.Require().NoError(err)
		msgs = append(msgs, string(data))
	}
	return "[" + strings.Join(msgs, ",") + "]"
}

func (s *HubSuite) TestBroadcastsReadings() {
	conn := s.dial()
	s.Require().Eventually(func() bool { return s.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	s.hub.OnSessionState("c0:ff:ee", hrm.SessionActive)
	s.hub.OnHeartRate(72)
	s.hub.OnBatteryLevel(0)
	s.hub.OnBodyLocation(gatt.LocationWrist)
	s.hub.OnDeviceInfo(gatt.RoleDeviceModel, "H10")

	testutils.NewJSONAsserter(s.T(), testutils.WithIgnoreExtraKeys(false)).Assert(s.read(conn, 5), `[
		{"type": "session", "ts": "2026-01-02T03:04:05Z", "address": "c0:ff:ee", "state": "Active"},
		{"type": "heart_rate", "ts": "2026-01-02T03:04:05Z", "bpm": 72},
		{"type": "battery", "ts": "2026-01-02T03:04:05Z", "percent": 0},
		{"type": "body_location", "ts": "2026-01-02T03:04:05Z", "location": "Wrist"},
		{"type": "device_info", "ts": "2026-01-02T03:04:05Z", "field": "DeviceModel", "text": "H10"}
	]`)
}

func (s *HubSuite) TestLateClientReceivesLatestOfEachType() {
	s.hub.OnDeviceName("Strap")
	s.hub.OnHeartRate(60)
	s.hub.OnDeviceInfo(gatt.RoleDeviceManufacturer, "Acme")
	s.hub.OnDeviceInfo(gatt.RoleDeviceModel, "HR-1")
	s.hub.OnHeartRate(61)
	s.hub.OnAdapterWarning(hrm.AdapterPoweredOff, "pi")

	conn := s.dial()
	testutils.NewJSONAsserter(s.T(), testutils.WithIgnoredFields("ts")).Assert(s.read(conn, 5), `[
		{"type": "device_name", "name": "Strap"},
		{"type": "heart_rate", "bpm": 61},
		{"type": "device_info", "field": "DeviceManufacturer", "text": "Acme"},
		{"type": "device_info", "field": "DeviceModel", "text": "HR-1"},
		{"type": "adapter_warning", "state": "PoweredOff", "text": "Bluetooth is turned off on pi. Turn it on to connect to the heart rate monitor."}
	]`)
}

func (s *HubSuite) TestClientCloseUnregisters() {
	conn := s.dial()
	s.Require().Eventually(func() bool { return s.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(conn.Close())
	s.Eventually(func() bool { return s.hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	// Broadcasting with no clients only updates the replay cache.
	s.hub.OnHeartRate(90)
	s.Equal(1, s.hub.latest.Len())
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.ListenAndServe(ctx, addr) }()

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("hub did not stop")
	}
}
