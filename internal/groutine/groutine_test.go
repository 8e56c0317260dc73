package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoPassesName(t *testing.T) {
	names := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	l, hook := test.NewNullLogger()
	SetLogger(l)
	defer SetLogger(nil)

	Go(nil, "boom", func(context.Context) {
		panic("kaboom")
	})

	require.Eventually(t, func() bool {
		return len(hook.AllEntries()) == 1
	}, time.Second, 5*time.Millisecond)

	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "boom", entry.Data["goroutine"])
	assert.Equal(t, "kaboom", entry.Data["panic"])
}

func TestGetNameWithoutName(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck
}
