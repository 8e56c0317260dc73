package ptyio

import (
	"bufio"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/srg/hrmon/internal/hrm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openOrSkip(t *testing.T, opts Options) (*Sink, *PTY) {
	t.Helper()
	s, p, err := OpenSink(opts)
	if err != nil {
		t.Skipf("PTY unavailable: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return s, p
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return strings.TrimRight(res.line, "\r\n")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PTY output")
		return ""
	}
}

func TestPTYDeliversRecordsToSlave(t *testing.T) {
	s, p := openOrSkip(t, Options{WriteCap: 1024})
	require.NotEmpty(t, p.TTYName())

	slave, err := os.OpenFile(p.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer slave.Close()
	r := bufio.NewReader(slave)

	s.OnHeartRate(64)
	s.OnSessionState("AA:BB", hrm.SessionActive)

	assert.Equal(t, "HR,64", readLine(t, r))
	assert.Equal(t, "STATE,AA:BB,Active", readLine(t, r))

	_, err = slave.Write([]byte("STATUS\n"))
	require.NoError(t, err)
	assert.Equal(t, "HR,64", readLine(t, r))
	assert.Equal(t, "STATE,AA:BB,Active", readLine(t, r))
	assert.Equal(t, "OK", readLine(t, r))

	assert.Eventually(t, func() bool { return p.Stats().ReadBytesTotal >= 7 }, time.Second, 10*time.Millisecond)
}

func TestPTYWriteOverflowIsCounted(t *testing.T) {
	_, p := openOrSkip(t, Options{WriteCap: 8, PollTimeoutMs: 1000})

	// A single write larger than the ring is truncated before the loop can drain it.
	n, err := p.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 8)
	assert.Equal(t, uint64(16-n), p.Stats().DroppedWriteCount)
	assert.Equal(t, 8, p.Stats().WriteQueueCap)
}

func TestPTYClose(t *testing.T) {
	_, p := openOrSkip(t, Options{WriteCap: 16})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestOpenRejectsZeroCapacity(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
