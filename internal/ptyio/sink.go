package ptyio

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/hrm"
)

// Sink writes one CRLF-terminated record per event:
//
//	HR,72
//	BAT,85
//	LOC,Chest
//	NAME,Polar H10
//	INFO,manufacturer,Polar
//	STATE,AA:BB:CC:DD:EE:FF,Active
//	WARN,PoweredOff,iPhone
//
// A line "STATUS" typed on the slave replays the latest record of every kind.
type Sink struct {
	w io.Writer

	mu     sync.Mutex
	latest map[string]string
	order  []string
	line   []byte
}

var _ hrm.EventSink = (*Sink)(nil)

// NewSink writes records to w. Use Sink.HandleInput as the PTY read callback to answer
// STATUS requests.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w, latest: make(map[string]string)}
}

// OpenSink opens a PTY wired to a new Sink.
func OpenSink(opts Options) (*Sink, *PTY, error) {
	s := NewSink(io.Discard)
	opts.OnRead = s.HandleInput
	p, err := Open(opts)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.w = p
	s.mu.Unlock()
	return s, p, nil
}

func (s *Sink) emit(key string, fields ...string) {
	record := strings.Join(fields, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.latest[key]; !seen {
		s.order = append(s.order, key)
	}
	s.latest[key] = record
	_, _ = fmt.Fprintf(s.w, "%s\r\n", record)
}

// HandleInput accumulates slave input and answers complete request lines.
func (s *Sink) HandleInput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.line = append(s.line, data...)
	for {
		i := bytes.IndexAny(s.line, "\r\n")
		if i < 0 {
			break
		}
		cmd := strings.ToUpper(strings.TrimSpace(string(s.line[:i])))
		s.line = s.line[i+1:]

		switch cmd {
		case "":
		case "STATUS":
			for _, key := range s.order {
				_, _ = fmt.Fprintf(s.w, "%s\r\n", s.latest[key])
			}
			_, _ = io.WriteString(s.w, "OK\r\n")
		default:
			_, _ = fmt.Fprintf(s.w, "ERR,unknown command %s\r\n", cmd)
		}
	}
	// Drop runaway input with no line terminator.
	if len(s.line) > 256 {
		s.line = s.line[:0]
	}
}

func (s *Sink) OnDeviceName(name string) {
	s.emit("NAME", "NAME", name)
}

func (s *Sink) OnDeviceInfo(field gatt.Role, text string) {
	name := "other"
	switch field {
	case gatt.RoleDeviceManufacturer:
		name = "manufacturer"
	case gatt.RoleDeviceModel:
		name = "model"
	}
	s.emit("INFO/"+name, "INFO", name, text)
}

func (s *Sink) OnBatteryLevel(percent uint8) {
	s.emit("BAT", "BAT", fmt.Sprint(percent))
}

func (s *Sink) OnHeartRate(bpm uint16) {
	s.emit("HR", "HR", fmt.Sprint(bpm))
}

func (s *Sink) OnBodyLocation(location gatt.BodySensorLocation) {
	s.emit("LOC", "LOC", location.String())
}

func (s *Sink) OnAdapterWarning(kind hrm.AdapterState, deviceModel string) {
	s.emit("WARN", "WARN", kind.String(), deviceModel)
}

func (s *Sink) OnSessionState(addr string, state hrm.SessionState) {
	s.emit("STATE", "STATE", addr, state.String())
}
