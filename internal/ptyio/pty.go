// Package ptyio exposes readings on a pseudo-terminal so that serial tools (screen,
// minicom, cat) can follow the monitor like a wired heart-rate receiver.
//
// Writes are queued in a ring buffer and flushed to the master by a background loop, so
// producers never block. When the buffer is full the excess bytes are dropped and counted.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/hrmon/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// DefaultPollTimeoutMs bounds how long the I/O loops wait before checking for shutdown.
const DefaultPollTimeoutMs = 50

// ReadCallback receives bytes typed on the slave side. The slice is reused after return.
type ReadCallback func(data []byte)

type Options struct {
	WriteCap      int
	Logger        *logrus.Logger
	PollTimeoutMs int
	OnRead        ReadCallback
}

// Stats are instantaneous counters.
type Stats struct {
	WriteQueueLen     int
	WriteQueueCap     int
	DroppedWriteCount uint64
	WriteBytesTotal   uint64
	ReadBytesTotal    uint64
}

// PTY is the master side of a pseudo-terminal pair.
type PTY struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	fd      int // master descriptor, non-blocking
	ttyName string
	poll    int
	onRead  ReadCallback

	writeBuf *ringbuffer.RingBuffer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedWrite atomic.Uint64
	writeBytes   atomic.Uint64
	readBytes    atomic.Uint64
}

var _ io.WriteCloser = (*PTY)(nil)

// Open creates a raw-mode pseudo-terminal and starts its I/O loops.
func Open(opts Options) (*PTY, error) {
	if opts.WriteCap <= 0 {
		return nil, fmt.Errorf("write capacity must be > 0")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.PollTimeoutMs <= 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}

	master, slave, fd, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:   opts.Logger,
		master:   master,
		slave:    slave,
		fd:       fd,
		ttyName:  slave.Name(),
		poll:     opts.PollTimeoutMs,
		onRead:   opts.OnRead,
		writeBuf: ringbuffer.New(opts.WriteCap),
		cancel:   cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-write-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.writeLoop(ctx)
	})
	groutine.Go(ctx, "pty-read-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.readLoop(ctx)
	})
	return p, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5.
func (p *PTY) TTYName() string {
	return p.ttyName
}

// Write queues data for the slave. It never blocks; a short count means bytes were dropped.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"tty":     p.ttyName,
			"dropped": len(data) - n,
		}).Warn("PTY write buffer overflow")
	}
	return n, nil
}

func (p *PTY) writeLoop(ctx context.Context) {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		if p.writeBuf.IsEmpty() {
			// Idle: sleep for one poll interval on a descriptor-independent timer.
			if _, err := unix.Poll(nil, p.poll); err != nil && !errors.Is(err, syscall.EINTR) {
				p.logger.WithField("error", err).Warn("PTY write poll failed")
			}
			continue
		}

		n, err := p.writeBuf.TryRead(buf)
		if n == 0 || (err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty)) {
			continue
		}

		for off := 0; off < n && ctx.Err() == nil; {
			written, err := unix.Write(p.fd, buf[off:n])
			if written > 0 {
				off += written
				p.writeBytes.Add(uint64(written))
			}
			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				_, _ = unix.Poll(pollFd, p.poll)
			case errors.Is(err, syscall.EBADF):
				return
			default:
				p.logger.WithField("error", err).Warn("PTY write loop exiting")
				return
			}
		}
	}
}

func (p *PTY) readLoop(ctx context.Context) {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	buf := make([]byte, 1024)

	for ctx.Err() == nil {
		ready, err := unix.Poll(pollFd, p.poll)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithField("error", err).Warn("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := unix.Read(p.fd, buf)
		if n > 0 {
			p.readBytes.Add(uint64(n))
			if p.onRead != nil {
				p.onRead(buf[:n])
			}
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, syscall.EIO):
			return
		default:
			p.logger.WithField("error", err).Warn("PTY read loop exiting")
			return
		}
	}
}

func (p *PTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		WriteQueueCap:     p.writeBuf.Capacity(),
		DroppedWriteCount: p.droppedWrite.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
	}
}

// Close stops the loops and closes both ends.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return errors.Join(p.master.Close(), p.slave.Close())
}

// createPTY opens a pair with the slave in raw mode and the master non-blocking. The master
// descriptor is returned separately: calling Fd again would switch it back to blocking mode.
func createPTY() (master, slave *os.File, fd int, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, err error) (*os.File, *os.File, int, error) {
		return nil, nil, -1, fmt.Errorf("failed to set PTY %s to %s: %w", slave.Name(), step, errors.Join(err, master.Close(), slave.Close()))
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw mode", err)
	}
	fd = int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("non-blocking mode", err)
	}
	return master, slave, fd, nil
}
