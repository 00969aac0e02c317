// Package testutil provides shared test helpers for the scheduler packages.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// FakeClockAt returns a fake clock set to t. Timers created from it fire
// only when the clock is moved with Add or Set.
func FakeClockAt(t time.Time) clock.FakeClock {
	clk := clock.NewFake()
	clk.Set(t)
	return clk
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ObservedLogger returns a logger whose entries at debug level and above
// are captured for assertions.
func ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// WaitFor polls cond until it holds or two seconds pass.
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
