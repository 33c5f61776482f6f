// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// DefaultTimeout bounds every blocking helper in this package
const DefaultTimeout = 5 * time.Second

// ObservedLogger returns a logger that records every entry at or above level
func ObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// WaitGroupTimeout waits for wg, failing the test if it does not finish in time
func WaitGroupTimeout(t testing.TB, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("wait group did not finish within %v", timeout)
	}
}

// CallTimeout runs fn in a goroutine, failing the test if it does not return in time
func CallTimeout(t testing.TB, timeout time.Duration, fn func()) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("call did not return within %v", timeout)
	}
}

// Gate is a reusable barrier that holds tasks until Open is called
type Gate struct {
	ch   chan struct{}
	once sync.Once
}

// NewGate creates a closed gate
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait blocks until the gate is opened
func (g *Gate) Wait() {
	<-g.ch
}

// Open releases every current and future waiter
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}
