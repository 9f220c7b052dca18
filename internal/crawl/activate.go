package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/browser"
)

// ErrPanelNotRendered is returned when a panel did not render within the
// attempt budget. The participant is skipped.
var ErrPanelNotRendered = errors.New("panel did not render")

// Panel is an open, rendered detail panel.
type Panel struct {
	PID      string
	HTML     string
	Attempts int
	Clicked  bool
}

// ActivatorOptions bounds panel activation.
type ActivatorOptions struct {
	MaxAttempts   int
	AppearTimeout time.Duration
	RenderTimeout time.Duration
	PollInterval  time.Duration
	ScrollNudge   int
}

// DefaultActivatorOptions mirrors the pacing the live site needs.
func DefaultActivatorOptions() ActivatorOptions {
	return ActivatorOptions{
		MaxAttempts:   6,
		AppearTimeout: 6 * time.Second,
		RenderTimeout: 3 * time.Second,
		PollInterval:  150 * time.Millisecond,
		ScrollNudge:   160,
	}
}

// Activator opens detail panels. Clicking a toggle whose panel is already
// open closes it, so the rendered state is always read before a click.
type Activator struct {
	opts   ActivatorOptions
	logger *zap.Logger
}

func NewActivator(opts ActivatorOptions, logger *zap.Logger) *Activator {
	def := DefaultActivatorOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.AppearTimeout <= 0 {
		opts.AppearTimeout = def.AppearTimeout
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = def.RenderTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ScrollNudge == 0 {
		opts.ScrollNudge = def.ScrollNudge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activator{opts: opts, logger: logger}
}

type panelState struct {
	Present bool `json:"present"`
	Ready   bool `json:"ready"`
}

// readPanelState asks the page for the panel state and, when the script
// fails, reads it from the panel markup instead.
func readPanelState(ctx context.Context, page browser.Page, pid string) (panelState, error) {
	var st panelState
	err := page.ExecuteScript(ctx, panelStateScript, &st, pid)
	if err == nil || fatalPageErr(ctx, err) {
		return st, err
	}

	html, herr := page.OuterHTML(ctx, panelSelector(pid))
	switch {
	case errors.Is(herr, browser.ErrNotFound):
		return panelState{}, nil
	case herr != nil:
		if fatalPageErr(ctx, herr) {
			return st, herr
		}
		return st, fmt.Errorf("panel state %s: %w", pid, err)
	}
	return panelStateFromMarkup(html)
}

func panelStateFromMarkup(html string) (panelState, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return panelState{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	ready := false
	doc.Find("div.font-bold.text-sm").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		ready = strings.TrimSpace(s.Text()) != ""
		return !ready
	})
	return panelState{Present: true, Ready: ready}, nil
}

// EnsurePanelOpen returns the rendered panel for pid, opening it if needed.
//
// Each attempt walks NOT_FOUND -> CLICKED -> WAITING_RENDER and ends READY
// or RENDER_TIMEOUT; a timeout starts the next attempt. After MaxAttempts
// the result is ErrPanelNotRendered.
func (a *Activator) EnsurePanelOpen(ctx context.Context, page browser.Page, pid string) (*Panel, error) {
	clicked := false
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st, err := readPanelState(ctx, page, pid)
		if err != nil {
			if fatalPageErr(ctx, err) {
				return nil, err
			}
			// Unknown state: a click could close an open panel.
			a.logger.Debug("  Panel state unreadable",
				zap.String("pid", pid),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			a.nudge(ctx, page)
			if err := browser.Sleep(ctx, a.opts.PollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if st.Ready {
			return a.capture(ctx, page, pid, attempt, clicked)
		}

		// Present but still loading from an earlier click: give it one
		// more render window instead of toggling it closed.
		if st.Present && attempt > 1 {
			if err := a.waitRendered(ctx, page, pid); err == nil {
				return a.capture(ctx, page, pid, attempt, clicked)
			} else if fatalPageErr(ctx, err) {
				return nil, err
			}
		}

		toggle := toggleSelector(pid)
		_ = page.ExecuteScript(ctx, scrollIntoViewScript, nil, toggle)
		if err := page.Click(ctx, toggle); err != nil {
			if fatalPageErr(ctx, err) {
				return nil, err
			}
			a.logger.Debug("  Toggle not clickable",
				zap.String("pid", pid),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			a.nudge(ctx, page)
			continue
		}
		clicked = true

		err = browser.Poll(ctx, a.opts.AppearTimeout, a.opts.PollInterval, func(ctx context.Context) (bool, error) {
			n, err := page.Count(ctx, panelSelector(pid))
			return n > 0, err
		})
		if err == nil {
			err = a.waitRendered(ctx, page, pid)
			if err == nil {
				return a.capture(ctx, page, pid, attempt, clicked)
			}
		}
		if fatalPageErr(ctx, err) {
			return nil, err
		}

		a.logger.Debug("  Panel render timeout",
			zap.String("pid", pid),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		a.nudge(ctx, page)
	}
	return nil, fmt.Errorf("pid %s after %d attempts: %w", pid, a.opts.MaxAttempts, ErrPanelNotRendered)
}

func (a *Activator) waitRendered(ctx context.Context, page browser.Page, pid string) error {
	return browser.Poll(ctx, a.opts.RenderTimeout, a.opts.PollInterval, func(ctx context.Context) (bool, error) {
		st, err := readPanelState(ctx, page, pid)
		return st.Ready, err
	})
}

func (a *Activator) capture(ctx context.Context, page browser.Page, pid string, attempt int, clicked bool) (*Panel, error) {
	html, err := page.OuterHTML(ctx, panelSelector(pid))
	if err != nil {
		return nil, fmt.Errorf("read panel %s: %w", pid, err)
	}
	return &Panel{PID: pid, HTML: html, Attempts: attempt, Clicked: clicked}, nil
}

func (a *Activator) nudge(ctx context.Context, page browser.Page) {
	_ = page.ExecuteScript(ctx, scrollByScript, nil, a.opts.ScrollNudge)
}
