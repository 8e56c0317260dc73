package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/hrmon/internal/hrm"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the session phase with elapsed time on one terminal line.
//
// Usage:
//
//	p := NewProgressPrinter(out, "Waiting for heart rate monitor", "Scanning", "Active")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	hrm.NopSink

	out        io.Writer
	prefix     string
	phase      atomic.Value        // string
	stopPhases map[string]struct{} // phases that end the display
	startTime  time.Time
	started    atomic.Bool
	stopOnce   sync.Once
	stopChan   chan struct{}
	done       chan struct{}

	// mu serializes writes to out.
	mu sync.Mutex
}

var _ hrm.EventSink = (*ProgressPrinter)(nil)

func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.print(p.phase.Load().(string), 0)

	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase updates the displayed phase. A stop phase ends the display.
// Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
	if _, stop := p.stopPhases[phase]; stop {
		p.Stop()
	}
}

// OnSessionState follows the session lifecycle.
func (p *ProgressPrinter) OnSessionState(_ string, state hrm.SessionState) {
	if state.Terminal() {
		p.SetPhase("Scanning")
		return
	}
	p.SetPhase(state.String())
}

// Stop ends the display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		_, _ = io.WriteString(p.out, clearLineSequence)
	})
}
