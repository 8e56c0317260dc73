package lua

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookScript = `
events = {}
local function log(s) events[#events + 1] = s end

function on_device_name(name) log("name " .. name) end
function on_device_info(field, text) log(field .. " " .. text) end
function on_battery(p) log("battery " .. p) end
function on_heart_rate(bpm)
  if bpm > 180 then error("implausible") end
  log("hr " .. bpm)
end
function on_body_location(label, code) log("loc " .. label .. " " .. code) end
function on_adapter_warning(state, model) log("warn " .. state .. " " .. model) end
function on_session_state(s) log("session " .. s.address .. " " .. s.state .. " " .. tostring(s.terminal)) end

function summary() result = table.concat(events, ";") end
`

func TestSinkCallsHooks(t *testing.T) {
	logger, hook := test.NewNullLogger()
	engine := NewEngine(logger)
	defer engine.Close()
	require.NoError(t, engine.LoadScript(hookScript, "hooks.lua"))

	s := NewSink(engine, logger)
	s.OnAdapterWarning(hrm.AdapterPoweredOff, "pi")
	s.OnSessionState("aa:bb", hrm.SessionConnecting)
	s.OnDeviceName("Strap")
	s.OnDeviceInfo(gatt.RoleDeviceManufacturer, "Acme")
	s.OnDeviceInfo(gatt.RoleDeviceModel, "HR-1")
	s.OnBodyLocation(gatt.LocationChest)
	s.OnBatteryLevel(77)
	s.OnHeartRate(64)
	s.OnHeartRate(250)
	s.OnSessionState("aa:bb", hrm.SessionDisconnected)

	require.NoError(t, engine.CallHook("summary"))
	assert.Equal(t, "warn PoweredOff pi;session aa:bb Connecting false;name Strap;manufacturer Acme;"+
		"model HR-1;loc Chest 1;battery 77;hr 64;session aa:bb Disconnected true", engine.GetGlobal("result"))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, HookHeartRate, hook.LastEntry().Data["hook"])
}

func TestSinkWithoutHooks(t *testing.T) {
	engine := NewEngine(nil)
	defer engine.Close()
	require.NoError(t, engine.LoadScript(`x = 1`, "empty"))

	s := NewSink(engine, nil)
	assert.NotPanics(t, func() {
		s.OnHeartRate(60)
		s.OnBatteryLevel(1)
	})
}
