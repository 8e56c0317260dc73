package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/srg/hrmon/internal/hrm"
	"github.com/srg/hrmon/pkg/config"
	"github.com/stretchr/testify/suite"
)

type MonitorTestSuite struct {
	CommandTestSuite
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

// runUntil runs the monitor until out contains want, then stops it.
func (s *MonitorTestSuite) runUntil(cfg *config.Config, want string) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- monitor(ctx, cfg, s.Logger, out) }()

	s.Require().Eventually(func() bool {
		return strings.Contains(out.String(), want)
	}, 3*time.Second, 10*time.Millisecond, "output so far:\n%s", out.String())

	cancel()
	select {
	case err := <-errCh:
		return out.String(), err
	case <-time.After(3 * time.Second):
		s.FailNow("monitor did not stop after cancel")
		return "", nil
	}
}

func (s *MonitorTestSuite) TestStreamsHeartRateToConsole() {
	out, err := s.runUntil(config.DefaultConfig(), "Heart rate: 72 bpm")

	s.ErrorIs(err, context.Canceled)
	s.Contains(out, "Device: Polar H10")
	s.Contains(out, "[00:00:00:00:00:01] Active")
	s.Equal(1, s.Backend.Scans())
}

func (s *MonitorTestSuite) TestDumpOnExitPrintsSnapshot() {
	monitorDumpOnExit = true

	out, err := s.runUntil(config.DefaultConfig(), "Heart rate: 72 bpm")
	s.ErrorIs(err, context.Canceled)

	start := strings.Index(out, "{")
	s.Require().GreaterOrEqual(start, 0, "snapshot JSON missing:\n%s", out)

	var snap map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out[start:]), &snap))
	s.Equal(hrm.AdapterPoweredOn.String(), snap["adapter"])
	// Shutdown tears the session down before the snapshot is taken.
	s.Nil(snap["session"])
}

func (s *MonitorTestSuite) TestLuaHooksReceiveReadings() {
	script := filepath.Join(s.T().TempDir(), "hooks.lua")
	s.Require().NoError(os.WriteFile(script, []byte(`
function on_heart_rate(bpm)
  print("lua saw " .. bpm)
end
`), 0o600))

	cfg := config.DefaultConfig()
	cfg.Sinks.Console = false
	cfg.Sinks.Lua.Script = script

	out, err := s.runUntil(cfg, "lua saw 72")
	s.ErrorIs(err, context.Canceled)
	s.NotContains(out, "Heart rate:")
}

func (s *MonitorTestSuite) TestBadLuaScriptFailsBeforeScanning() {
	script := filepath.Join(s.T().TempDir(), "broken.lua")
	s.Require().NoError(os.WriteFile(script, []byte("function ("), 0o600))

	cfg := config.DefaultConfig()
	cfg.Sinks.Lua.Script = script

	err := monitor(context.Background(), cfg, s.Logger, &syncBuffer{})
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to load script")
	s.Zero(s.Backend.Scans())
}

func (s *MonitorTestSuite) TestProgressStopsWhenActive() {
	monitorProgress = true

	out, err := s.runUntil(config.DefaultConfig(), "Heart rate: 72 bpm")
	s.ErrorIs(err, context.Canceled)
	s.Contains(out, "Waiting for heart rate monitor (Scanning")
	s.Contains(out, clearLineSequence)
}

func (s *MonitorTestSuite) TestInvalidFlagCombinationIsRejected() {
	_, err := s.ExecuteCommand(rootCmd, "monitor", "--config", filepath.Join(s.T().TempDir(), "none.yaml"), "--backend", "carrier-pigeon")
	s.Require().Error(err)
	s.Contains(err.Error(), "backend")
	s.Zero(s.Backend.Scans())
}
