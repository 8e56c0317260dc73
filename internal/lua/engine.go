// Package lua runs user scripts that react to heart-rate monitor events. A script defines
// global hook functions (on_heart_rate, on_battery, ...) that are called as events arrive.
package lua

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// OutputRecord is one chunk of script output.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// ScriptError describes a failed script load or hook call.
type ScriptError struct {
	Type       string // "syntax", "runtime", "api"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *ScriptError) Error() string {
	var parts []string
	if e.Source != "" {
		parts = append(parts, "in "+e.Source)
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}
	prefix := "Lua " + e.Type + " error"
	if len(parts) > 0 {
		prefix += " (" + strings.Join(parts, ", ") + ")"
	}
	return prefix + ": " + e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Underlying
}

// Is matches another *ScriptError of the same Type.
func (e *ScriptError) Is(target error) bool {
	var other *ScriptError
	if errors.As(target, &other) {
		return e.Type == other.Type
	}
	return false
}

// blockedGlobals are replaced with functions that raise an error.
var blockedGlobals = map[string][]string{
	"os": {"execute", "exit", "remove", "rename", "tmpname"},
	"io": {"read", "lines", "open", "popen"},
	"":   {"dofile", "loadfile"},
}

// Engine owns one Lua state. All access is serialized.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
	output *RingChannel[OutputRecord]
}

const outputCapacity = 256

func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger: logger,
		output: NewRingChannel[OutputRecord](outputCapacity),
	}
	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()
	return e
}

// Output returns the channel script output is delivered on.
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

func (e *Engine) emit(source, content string) {
	if e.output.ForceSend(OutputRecord{Content: content, Timestamp: time.Now(), Source: source}) {
		e.logger.Debug("Lua output buffer full, dropped oldest record")
	}
}

func (e *Engine) resetLocked() {
	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.capturePrint(e.state)
	e.sandbox(e.state)
}

// capturePrint routes print and io.write to the output channel.
func (e *Engine) capturePrint(L *lua.State) {
	L.PushGoFunction(func(L *lua.State) int {
		e.emit("stdout", strings.Join(stringArgs(L), "\t")+"\n")
		return 0
	})
	L.SetGlobal("print")

	L.GetGlobal("io")
	L.PushGoFunction(func(L *lua.State) int {
		e.emit("stdout", strings.Join(stringArgs(L), ""))
		return 0
	})
	L.SetField(-2, "write")
	L.Pop(1)
}

func (e *Engine) sandbox(L *lua.State) {
	for table, names := range blockedGlobals {
		for _, name := range names {
			qualified := name
			if table != "" {
				qualified = table + "." + name
			}
			blocked := func(L *lua.State) int {
				L.RaiseError(qualified + " is blocked")
				return 0
			}
			if table == "" {
				L.PushGoFunction(blocked)
				L.SetGlobal(name)
				continue
			}
			L.GetGlobal(table)
			L.PushGoFunction(blocked)
			L.SetField(-2, name)
			L.Pop(1)
		}
	}
}

// stringArgs converts the function arguments on the stack the way Lua's tostring does.
func stringArgs(L *lua.State) []string {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		switch {
		case L.IsNil(i):
			parts = append(parts, "nil")
		case L.IsBoolean(i):
			parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
		case L.IsNumber(i):
			parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
		case L.IsString(i):
			parts = append(parts, L.ToString(i))
		default:
			L.GetGlobal("tostring")
			L.PushValue(i)
			L.Call(1, 1)
			parts = append(parts, L.ToString(-1))
			L.Pop(1)
		}
	}
	return parts
}

// errorFromStack pops the error message and parses "chunk:line: message".
func errorFromStack(L *lua.State, errType, source string, underlying error) *ScriptError {
	msg := "unknown Lua error"
	if L.GetTop() > 0 {
		if L.IsString(-1) {
			msg = L.ToString(-1)
		}
		L.Pop(1)
	} else if underlying != nil {
		msg = underlying.Error()
	}
	return parseError(errType, source, msg, underlying)
}

func parseError(errType, source, msg string, underlying error) *ScriptError {
	e := &ScriptError{Type: errType, Message: msg, Source: source, Underlying: underlying}
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		var line int
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			e.Line = line
			e.Message = strings.TrimSpace(parts[2])
		}
	}
	return e
}

// LoadScriptFile runs the script in filename.
func (e *Engine) LoadScriptFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", filename, err)
	}
	return e.LoadScript(string(content), filename)
}

// LoadScript compiles and runs script so that it can define its hooks.
func (e *Engine) LoadScript(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &ScriptError{Type: "api", Message: "empty script", Source: name}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return &ScriptError{Type: "api", Message: "engine closed", Source: name}
	}

	L := e.state
	if status := L.LoadString(script); status != 0 {
		serr := errorFromStack(L, "syntax", name, nil)
		e.emit("stderr", serr.Error()+"\n")
		return serr
	}
	if err := L.Call(0, 0); err != nil {
		L.SetTop(0)
		serr := parseError("runtime", name, err.Error(), err)
		e.emit("stderr", serr.Error()+"\n")
		return serr
	}
	return nil
}

// HasHook reports whether the script defined a global function called name.
func (e *Engine) HasHook(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false
	}
	e.state.GetGlobal(name)
	defer e.state.Pop(1)
	return e.state.IsFunction(-1)
}

// CallHook calls the global function name with args. A missing hook is not an error.
// Supported argument types are string, bool, integers, float64 and map[string]any of those.
func (e *Engine) CallHook(name string, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return &ScriptError{Type: "api", Message: "engine closed", Source: name}
	}

	L := e.state
	L.GetGlobal(name)
	if !L.IsFunction(-1) {
		L.Pop(1)
		return nil
	}
	for _, a := range args {
		if err := push(L, a); err != nil {
			L.SetTop(0)
			return &ScriptError{Type: "api", Message: err.Error(), Source: name}
		}
	}
	if err := L.Call(len(args), 0); err != nil {
		L.SetTop(0)
		serr := parseError("runtime", name, err.Error(), err)
		e.emit("stderr", serr.Error()+"\n")
		return serr
	}
	return nil
}

func push(L *lua.State, v any) error {
	switch v := v.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(int64(v))
	case int64:
		L.PushInteger(v)
	case uint8:
		L.PushInteger(int64(v))
	case uint16:
		L.PushInteger(int64(v))
	case float64:
		L.PushNumber(v)
	case map[string]any:
		L.NewTable()
		for k, fv := range v {
			if err := push(L, fv); err != nil {
				return err
			}
			L.SetField(-2, k)
		}
	default:
		return fmt.Errorf("unsupported Lua value type %T", v)
	}
	return nil
}

// SetGlobal sets a global variable.
func (e *Engine) SetGlobal(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return &ScriptError{Type: "api", Message: "engine closed"}
	}
	if err := push(e.state, value); err != nil {
		return fmt.Errorf("global %s: %w", name, err)
	}
	e.state.SetGlobal(name)
	return nil
}

// GetGlobal returns a string, number or boolean global, or nil.
func (e *Engine) GetGlobal(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	L := e.state
	L.GetGlobal(name)
	defer L.Pop(1)
	switch {
	case L.IsNumber(-1):
		return L.ToNumber(-1)
	case L.IsString(-1):
		return L.ToString(-1)
	case L.IsBoolean(-1):
		return L.ToBoolean(-1)
	default:
		return nil
	}
}

// Reset discards every definition made by loaded scripts.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

// Close releases the Lua state and closes the output channel.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
		e.output.Close()
	}
}
