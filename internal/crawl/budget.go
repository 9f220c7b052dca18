package crawl

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("stop requested")
	// ErrRunDeadline is returned once the run's wall-clock budget is spent.
	ErrRunDeadline = errors.New("run deadline exceeded")
	// ErrEventDeadline is returned once the current event's budget is spent.
	ErrEventDeadline = errors.New("event deadline exceeded")
)

// Budget is the run-wide cancellation state: a wall-clock deadline and a
// stop flag, both polled at loop boundaries.
type Budget struct {
	deadline time.Time
	stopped  atomic.Bool
	now      func() time.Time
}

// NewBudget creates a Budget; maxRuntime <= 0 means no deadline.
func NewBudget(maxRuntime time.Duration) *Budget {
	b := &Budget{now: time.Now}
	if maxRuntime > 0 {
		b.deadline = b.now().Add(maxRuntime)
	}
	return b
}

// Stop requests an orderly shutdown. Safe from any goroutine.
func (b *Budget) Stop() { b.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (b *Budget) Stopped() bool { return b.stopped.Load() }

// Check returns ErrStopped or ErrRunDeadline when work must not continue.
func (b *Budget) Check() error {
	if b.stopped.Load() {
		return ErrStopped
	}
	if !b.deadline.IsZero() && !b.now().Before(b.deadline) {
		return ErrRunDeadline
	}
	return nil
}

// Remaining returns the time left, or -1 without a deadline.
func (b *Budget) Remaining() time.Duration {
	if b.deadline.IsZero() {
		return -1
	}
	return b.deadline.Sub(b.now())
}

// eventLimits bounds work for one event.
type eventLimits struct {
	ctx      context.Context
	budget   *Budget
	deadline time.Time
	now      func() time.Time
}

func (l eventLimits) check() error {
	if err := l.ctx.Err(); err != nil {
		return err
	}
	if err := l.budget.Check(); err != nil {
		return err
	}
	if !l.deadline.IsZero() && !l.now().Before(l.deadline) {
		return ErrEventDeadline
	}
	return nil
}

// isBudgetErr reports whether err came from a deadline, a stop request or
// cancellation rather than from the page.
func isBudgetErr(err error) bool {
	return errors.Is(err, ErrStopped) ||
		errors.Is(err, ErrRunDeadline) ||
		errors.Is(err, ErrEventDeadline) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
