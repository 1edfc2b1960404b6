// Package clock issues the version stamps used as both update timestamps
// and replication cursors.
//
// A version is wall-clock milliseconds since the Unix epoch, raised to one
// more than the last issued or observed value whenever the wall clock has not
// advanced past it. Every value returned by Next is strictly greater than
// every value returned or observed before it.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock issues strictly increasing versions.
type Clock interface {
	// Next returns a version greater than any version issued or observed.
	Next(ctx context.Context) (int64, error)
	// Observe raises the floor so later calls to Next exceed v.
	Observe(ctx context.Context, v int64) error
}

// Monotonic is an in-process Clock. It is safe for concurrent use.
type Monotonic struct {
	last atomic.Int64
	now  func() time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now}
}

// NewMonotonicWithSource is used by tests to pin the wall clock.
func NewMonotonicWithSource(now func() time.Time) *Monotonic {
	return &Monotonic{now: now}
}

func (c *Monotonic) Next(_ context.Context) (int64, error) {
	for {
		last := c.last.Load()
		next := c.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next, nil
		}
	}
}

func (c *Monotonic) Observe(_ context.Context, v int64) error {
	for {
		last := c.last.Load()
		if v <= last {
			return nil
		}
		if c.last.CompareAndSwap(last, v) {
			return nil
		}
	}
}

// Last returns the most recent issued or observed version.
func (c *Monotonic) Last() int64 {
	return c.last.Load()
}
