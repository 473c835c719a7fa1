// Package testutil provides helpers for tests that run pipeline components
// in goroutines.
//
// t.Fatal and t.FailNow only exit the calling goroutine, so component
// goroutines report through an error channel instead and the test goroutine
// fails once everything has returned.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Group runs component loops and collects their errors.
//
//	g := testutil.NewGroup(t, 5*time.Second)
//	defer g.Wait()
//	g.Go(func(ctx context.Context) error { return worker.Run(ctx) })
type Group struct {
	t      testing.TB
	wg     sync.WaitGroup
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGroup creates a group whose context is cancelled after timeout or by
// Cancel.
func NewGroup(t testing.TB, timeout time.Duration) *Group {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &Group{
		t:      t,
		errs:   make(chan error, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn with the group context.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(g.ctx); err != nil {
			select {
			case g.errs <- err:
			default:
				g.t.Logf("error channel full, dropping: %v", err)
			}
		}
	}()
}

// Context returns the group context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel stops every goroutine of the group.
func (g *Group) Cancel() { g.cancel() }

// Wait cancels the group, waits for every goroutine and fails the test if
// any returned an error.
func (g *Group) Wait() {
	g.t.Helper()
	g.cancel()
	g.wg.Wait()
	close(g.errs)

	n := 0
	for err := range g.errs {
		n++
		g.t.Errorf("goroutine error [%d]: %v", n, err)
	}
}

// Eventually polls condition every interval until it holds or timeout
// expires.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}

// WithTimeout runs fn and returns an error if it does not finish in time.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}
