package lua

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

const (
	// MaxCollectorSize caps the collector buffer.
	MaxCollectorSize uint32 = 1 << 20

	DefaultCollectorSize uint32 = 1024
)

// OutputCollector keeps the most recent script output records in an overlapped ring
// buffer until they are consumed.
type OutputCollector struct {
	source <-chan OutputRecord
	buffer mpmc.RichOverlappedRingBuffer[OutputRecord]

	running     atomic.Bool
	ready       chan struct{}
	stop        chan struct{}
	done        chan struct{}
	mu          sync.Mutex
	collected   atomic.Int64
	overwritten atomic.Int64
}

func NewOutputCollector(source <-chan OutputRecord, size uint32) (*OutputCollector, error) {
	if source == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if size == 0 || size > MaxCollectorSize {
		return nil, fmt.Errorf("buffer size %d out of range 1..%d", size, MaxCollectorSize)
	}
	return &OutputCollector{
		source: source,
		buffer: mpmc.NewOverlappedRingBuffer[OutputRecord](size),
		ready:  make(chan struct{}, 1),
	}, nil
}

// Start begins moving records from the source into the buffer.
func (c *OutputCollector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("collector is already running")
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		defer c.running.Store(false)
		for {
			select {
			case <-stop:
				return
			case rec, ok := <-c.source:
				if !ok {
					return
				}
				if err := c.collect(rec); err != nil {
					return
				}
			}
		}
	}(c.stop, c.done)
	return nil
}

func (c *OutputCollector) collect(rec OutputRecord) error {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		return err
	}
	c.overwritten.Add(int64(overwrites))
	c.collected.Add(1)
	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready fires after records were buffered.
func (c *OutputCollector) Ready() <-chan struct{} {
	return c.ready
}

// Stop ends collection and waits for the collecting goroutine. Records already queued on
// the source are still buffered.
func (c *OutputCollector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	select {
	case <-c.done:
	default:
		close(c.stop)
		<-c.done
	}
	c.stop = nil

	for {
		select {
		case rec, ok := <-c.source:
			if !ok || c.collect(rec) != nil {
				return
			}
		default:
			return
		}
	}
}

// Collected and Overwritten count records taken from the source and records lost to
// buffer overflow.
func (c *OutputCollector) Collected() int64   { return c.collected.Load() }
func (c *OutputCollector) Overwritten() int64 { return c.overwritten.Load() }

// Drain removes and returns every buffered record.
func (c *OutputCollector) Drain() ([]OutputRecord, error) {
	var out []OutputRecord
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("buffer dequeue error: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ConsumePlainText drains the buffer and concatenates record contents.
func (c *OutputCollector) ConsumePlainText() (string, error) {
	records, err := c.Drain()
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.Content)
	}
	return b.String(), err
}
