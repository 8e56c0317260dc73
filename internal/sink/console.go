// Package sink provides hrm.EventSink implementations for the monitor command.
package sink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
	"golang.org/x/term"
)

// Console prints readings as lines of text.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	samples int

	label *color.Color
	value *color.Color
	warn  *color.Color
	dim   *color.Color
}

var _ hrm.EventSink = (*Console)(nil)

// NewConsole writes to out. Colors are used when out is a terminal.
func NewConsole(out io.Writer) *Console {
	return NewConsoleWithColors(out, isTerminal(out))
}

func NewConsoleWithColors(out io.Writer, colors bool) *Console {
	c := &Console{
		out:   out,
		label: color.New(color.FgCyan),
		value: color.New(color.FgHiWhite, color.Bold),
		warn:  color.New(color.FgYellow, color.Bold),
		dim:   color.New(color.Faint),
	}
	for _, col := range []*color.Color{c.label, c.value, c.warn, c.dim} {
		if colors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) OnDeviceName(name string) {
	c.printf("%s %s\n", c.label.Sprint("Device:"), c.value.Sprint(name))
}

func (c *Console) OnDeviceInfo(field gatt.Role, text string) {
	label := "Manufacturer:"
	if field == gatt.RoleDeviceModel {
		label = "Model:"
	}
	c.printf("%s %s\n", c.label.Sprint(label), c.value.Sprint(text))
}

func (c *Console) OnBatteryLevel(percent uint8) {
	c.printf("%s %s\n", c.label.Sprint("Battery:"), c.value.Sprintf("%d%%", percent))
}

// OnHeartRate prints the sample with a running index. Zero readings, sent while the strap
// has no skin contact, are printed without advancing the index.
func (c *Console) OnHeartRate(bpm uint16) {
	c.mu.Lock()
	if bpm > 0 {
		c.samples++
	}
	n := c.samples
	c.mu.Unlock()

	if bpm == 0 {
		c.printf("%s %s\n", c.label.Sprint("Heart rate:"), c.dim.Sprint("-- bpm (no contact)"))
		return
	}
	c.printf("%s %s %s\n", c.label.Sprint("Heart rate:"), c.value.Sprintf("%d bpm", bpm), c.dim.Sprintf("#%d", n))
}

func (c *Console) OnBodyLocation(location gatt.BodySensorLocation) {
	c.printf("%s %s\n", c.label.Sprint("Sensor location:"), c.value.Sprint(location))
}

func (c *Console) OnAdapterWarning(kind hrm.AdapterState, deviceModel string) {
	c.printf("%s\n", c.warn.Sprint(AdapterWarning(kind, deviceModel)))
}

func (c *Console) OnSessionState(addr string, state hrm.SessionState) {
	c.printf("%s\n", c.dim.Sprintf("[%s] %s", addr, state))
}

// AdapterWarning is the user-facing text for an adapter state that prevents scanning.
func AdapterWarning(kind hrm.AdapterState, deviceModel string) string {
	if deviceModel == "" {
		deviceModel = "this device"
	}
	switch kind {
	case hrm.AdapterUnsupported:
		return fmt.Sprintf("Bluetooth LE is not supported on %s.", deviceModel)
	case hrm.AdapterPoweredOff:
		return fmt.Sprintf("Bluetooth is turned off on %s. Turn it on to connect to the heart rate monitor.", deviceModel)
	default:
		return fmt.Sprintf("Bluetooth is unavailable on %s (%s).", deviceModel, kind)
	}
}
