package lua

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type EngineSuite struct {
	suite.Suite

	engine    *Engine
	collector *OutputCollector
}

func (s *EngineSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.engine = NewEngine(logger)

	c, err := NewOutputCollector(s.engine.Output(), 100)
	s.Require().NoError(err)
	s.Require().NoError(c.Start())
	s.collector = c
}

func (s *EngineSuite) TearDownTest() {
	s.collector.Stop()
	s.engine.Close()
}

// output waits for n records and returns their text.
func (s *EngineSuite) output(n int64) string {
	s.Require().Eventually(func() bool { return s.collector.Collected() >= n }, time.Second, 2*time.Millisecond)
	text, err := s.collector.ConsumePlainText()
	s.Require().NoError(err)
	return text
}

func (s *EngineSuite) TestCapturePrintVariants() {
	cases := []struct {
		name     string
		script   string
		expected *regexp.Regexp
	}{
		{"no args", `print()`, regexp.MustCompile(`^\n$`)},
		{"two strings", `print("foo", "bar")`, regexp.MustCompile(`^foo\tbar\n$`)},
		{"number", `print(123)`, regexp.MustCompile(`^123\n$`)},
		{"booleans and nil", `print(true, false, nil)`, regexp.MustCompile(`^true\tfalse\tnil\n$`)},
		{"concat mixed", `print("val=" .. 123)`, regexp.MustCompile(`^val=123\n$`)},
		{"table", `print({x=1})`, regexp.MustCompile(`^table: 0x[0-9a-fA-F]+\n$`)},
		{"function", `print(function() end)`, regexp.MustCompile(`^function: 0x[0-9a-fA-F]+\n$`)},
		{"io.write", `io.write("a", 1, "b")`, regexp.MustCompile(`^a1b$`)},
	}

	for _, c := range cases {
		s.Run(c.name, func() {
			before := s.collector.Collected()
			s.Require().NoError(s.engine.LoadScript(c.script, "test"))
			got := s.output(before + 1)
			s.Regexp(c.expected, got)
		})
	}
}

func (s *EngineSuite) TestSyntaxError() {
	err := s.engine.LoadScript("function broken(", "broken.lua")

	var serr *ScriptError
	s.Require().ErrorAs(err, &serr)
	s.Equal("syntax", serr.Type)
	s.Equal("broken.lua", serr.Source)
	s.Equal(1, serr.Line)
	s.ErrorIs(err, &ScriptError{Type: "syntax"})
	s.NotErrorIs(err, &ScriptError{Type: "runtime"})

	s.Contains(s.output(1), "Lua syntax error (in broken.lua, line 1)")
}

func (s *EngineSuite) TestRuntimeErrorInHook() {
	s.Require().NoError(s.engine.LoadScript(`
function on_heart_rate(bpm)
  error("too fast: " .. bpm)
end`, "hooks.lua"))

	err := s.engine.CallHook("on_heart_rate", uint16(190))
	var serr *ScriptError
	s.Require().ErrorAs(err, &serr)
	s.Equal("runtime", serr.Type)
	s.Contains(serr.Message, "too fast: 190")

	// The state stays usable.
	s.Require().NoError(s.engine.LoadScript(`ok = true`, "after"))
	s.Equal(true, s.engine.GetGlobal("ok"))
}

func (s *EngineSuite) TestCallHookArguments() {
	s.Require().NoError(s.engine.LoadScript(`
function record(name, n, flag, t)
  result = name .. ":" .. n .. ":" .. tostring(flag) .. ":" .. t.state
end`, "args"))

	s.Require().NoError(s.engine.CallHook("record", "hr", 72, true, map[string]any{"state": "Active"}))
	s.Equal("hr:72:true:Active", s.engine.GetGlobal("result"))
	s.True(s.engine.HasHook("record"))
	s.False(s.engine.HasHook("missing"))

	s.NoError(s.engine.CallHook("missing", 1))
	s.Error(s.engine.CallHook("record", struct{}{}))
}

func (s *EngineSuite) TestBlockedFunctions() {
	blocked := map[string]string{
		"os.execute": `os.execute("echo test")`,
		"os.exit":    `os.exit(0)`,
		"os.remove":  `os.remove("file.txt")`,
		"io.read":    `io.read()`,
		"io.open":    `io.open("file.txt")`,
		"dofile":     `dofile("script.lua")`,
		"loadfile":   `loadfile("script.lua")`,
	}
	for name, script := range blocked {
		s.Run(name, func() {
			err := s.engine.LoadScript(script, name)
			s.Require().Error(err)
			s.Contains(err.Error(), name+" is blocked")
		})
	}
}

func (s *EngineSuite) TestGlobalsAndReset() {
	s.Require().NoError(s.engine.SetGlobal("threshold", 150))
	s.Require().NoError(s.engine.SetGlobal("label", "zone"))
	s.Equal(float64(150), s.engine.GetGlobal("threshold"))
	s.Equal("zone", s.engine.GetGlobal("label"))
	s.Error(s.engine.SetGlobal("bad", []int{1}))

	s.engine.Reset()
	s.Nil(s.engine.GetGlobal("threshold"))
}

func (s *EngineSuite) TestLoadScriptFile() {
	path := filepath.Join(s.T().TempDir(), "hooks.lua")
	s.Require().NoError(os.WriteFile(path, []byte(`loaded = "yes"`), 0o600))
	s.Require().NoError(s.engine.LoadScriptFile(path))
	s.Equal("yes", s.engine.GetGlobal("loaded"))

	err := s.engine.LoadScriptFile(filepath.Join(s.T().TempDir(), "missing.lua"))
	s.ErrorIs(err, os.ErrNotExist)

	var serr *ScriptError
	s.True(errors.As(s.engine.LoadScript("  ", "blank"), &serr))
	s.Equal("api", serr.Type)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
