package testutils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
)

// RecordingSink is an hrm.EventSink that records every emission as one line of text,
// for example "heart_rate 72" or "session AA:BB Active".
type RecordingSink struct {
	mu     sync.Mutex
	events []string
}

var _ hrm.EventSink = (*RecordingSink)(nil)

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (r *RecordingSink) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *RecordingSink) OnDeviceName(name string) { r.record("device_name %s", name) }
func (r *RecordingSink) OnDeviceInfo(field gatt.Role, text string) {
	r.record("device_info %s %s", field, text)
}
func (r *RecordingSink) OnBatteryLevel(percent uint8) { r.record("battery %d", percent) }
func (r *RecordingSink) OnHeartRate(bpm uint16)       { r.record("heart_rate %d", bpm) }
func (r *RecordingSink) OnBodyLocation(location gatt.BodySensorLocation) {
	r.record("body_location %s", location)
}
func (r *RecordingSink) OnAdapterWarning(kind hrm.AdapterState, deviceModel string) {
	r.record("adapter_warning %s %s", kind, deviceModel)
}
func (r *RecordingSink) OnSessionState(addr string, state hrm.SessionState) {
	r.record("session %s %s", addr, state)
}

// Events returns a copy of the recorded lines.
func (r *RecordingSink) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Matching returns the recorded lines starting with prefix.
func (r *RecordingSink) Matching(prefix string) []string {
	var out []string
	for _, e := range r.Events() {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// String joins the recorded lines with newlines.
func (r *RecordingSink) String() string {
	return strings.Join(r.Events(), "\n")
}

func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
