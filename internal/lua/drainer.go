package lua

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
)

// OutputDrainer copies collected script output to writers as it is produced.
type OutputDrainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewOutputDrainer starts the collector and writes what it gathers to stdout and stderr
// by source. Nil writers discard.
func NewOutputDrainer(ctx context.Context, collector *OutputCollector, logger *logrus.Logger, stdout, stderr io.Writer) (*OutputDrainer, error) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if err := collector.Start(); err != nil {
		return nil, err
	}
	finished := collector.done
	d := &OutputDrainer{stop: make(chan struct{})}

	var lost int64
	drain := func() {
		records, err := collector.Drain()
		if err != nil {
			logger.WithField("error", err).Warn("Lua output drain failed")
		}
		for _, rec := range records {
			w := stdout
			if rec.Source == "stderr" {
				w = stderr
			}
			if _, err := fmt.Fprint(w, rec.Content); err != nil {
				logger.WithFields(logrus.Fields{
					"source": rec.Source,
					"error":  err,
				}).Warn("Lua output write failed")
			}
		}
		if n := collector.Overwritten(); n > lost {
			logger.WithField("dropped", n-lost).Warn("Lua output overflowed, oldest records dropped")
			lost = n
		}
	}

	d.wg.Add(1)
	groutine.Go(ctx, "lua-output-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		for {
			select {
			case <-collector.Ready():
				drain()
			case <-finished:
				drain()
				return
			case <-d.stop:
				collector.Stop()
				drain()
				return
			case <-ctx.Done():
				collector.Stop()
				drain()
				return
			}
		}
	})
	return d, nil
}

// Cancel stops the drainer after flushing buffered output.
func (d *OutputDrainer) Cancel() {
	d.cancelOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the drainer has exited.
func (d *OutputDrainer) Wait() {
	d.wg.Wait()
}
