package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a selector matches no element.
	ErrNotFound = errors.New("element not found")

	// ErrSessionLost is returned once the underlying browser has gone away.
	// Nothing on the page can be retried after it.
	ErrSessionLost = errors.New("browser session lost")

	// ErrTimeout is returned by Poll when the condition never held.
	ErrTimeout = errors.New("wait timed out")
)

// Script is a named piece of JavaScript run in the page. The body is a
// function body: it may use arguments[i] and must return a JSON-compatible
// value.
type Script struct {
	Name   string
	Source string
}

// Page is the one stateful rendering context the crawler drives. Calls are
// not safe for concurrent use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// Count returns the number of elements matching a CSS selector.
	Count(ctx context.Context, selector string) (int, error)

	// Click scrolls the first element matching selector into view and
	// clicks it. Returns ErrNotFound when nothing matches.
	Click(ctx context.Context, selector string) error

	// ExecuteScript runs s with args and decodes its JSON result into out.
	// out may be nil when the result is not needed.
	ExecuteScript(ctx context.Context, s Script, out any, args ...any) error

	// OuterHTML returns the serialized markup of the first match, or
	// ErrNotFound.
	OuterHTML(ctx context.Context, selector string) (string, error)

	PageSource(ctx context.Context) (string, error)
}

// Condition is evaluated by Poll until it reports true.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond every interval until it returns true, the timeout
// elapses, or ctx is done. Condition errors are treated as "not yet",
// except ErrSessionLost which ends the wait immediately.
func Poll(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		ok, err := cond(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionLost) {
				return err
			}
			lastErr = err
		} else if ok {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return fmt.Errorf("%w: last error: %v", ErrTimeout, lastErr)
			}
			return ErrTimeout
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
