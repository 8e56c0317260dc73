// Package groutine starts named goroutines. The name is attached as a pprof label and is
// available to the goroutine through its context.
package groutine

import (
	"context"
	"runtime/debug"
	"runtime/pprof"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

var logger atomic.Pointer[logrus.Logger]

// SetLogger sets the logger used to report recovered panics. The logrus standard logger is
// used until it is called.
func SetLogger(l *logrus.Logger) {
	logger.Store(l)
}

func panicLogger() *logrus.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return logrus.StandardLogger()
}

// Go runs fn on a new goroutine labelled name. A panic in fn is logged with its stack
// and does not crash the process.
//
//	groutine.Go(ctx, "scan", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				panicLogger().WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     r,
					"stack":     string(debug.Stack()),
				}).Error("Recovered panic in goroutine")
			}
		}()
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(goroutineNameKey).(string); ok {
		return v
	}
	return ""
}
