package crawl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/eventsource"
	"github.com/fortuna/flowscrape/internal/extract"
	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/runstate"
)

// ErrSession is returned when the browser session cannot be recovered.
// The run ends after a checkpoint.
var ErrSession = errors.New("session unrecoverable")

// emptyNoticeRegex matches whole phrases only, so "120 participantes" is
// not read as "0 participantes".
var emptyNoticeRegex = regexp.MustCompile(`(?i)\b(?:no hay|sin participantes|no results|0 participantes|no participants)\b`)

// Authenticator signs the browser in again after the session expired.
type Authenticator interface {
	Login(ctx context.Context) error
}

// Options configures a Crawler.
type Options struct {
	PerEventTimeout  time.Duration
	PageStateTimeout time.Duration
	PageStatePoll    time.Duration
	Throttle         Throttle

	// DebugCapture attaches panel markup to records and dumps listing pages
	// that show no toggles into DebugDir.
	DebugCapture bool
	DebugDir     string

	Activator ActivatorOptions
	Paginator PaginatorOptions

	Seed int64
}

// Crawler drives one browser page through the event list.
type Crawler struct {
	page      browser.Page
	auth      Authenticator
	store     *runstate.Store
	extractor *extract.Extractor
	activator *Activator
	paginator *Paginator
	budget    *Budget
	reporter  Reporter
	pause     *pauser
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// New creates a Crawler. auth may be nil, in which case an expired session
// ends the run.
func New(page browser.Page, auth Authenticator, store *runstate.Store, extractor *extract.Extractor, budget *Budget, reporter Reporter, opts Options, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	if budget == nil {
		budget = NewBudget(0)
	}
	if extractor == nil {
		extractor = extract.NewExtractor(nil, logger)
	}
	if opts.PageStateTimeout <= 0 {
		opts.PageStateTimeout = 25 * time.Second
	}
	if opts.PageStatePoll <= 0 {
		opts.PageStatePoll = 250 * time.Millisecond
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Crawler{
		page:      page,
		auth:      auth,
		store:     store,
		extractor: extractor,
		activator: NewActivator(opts.Activator, logger),
		paginator: NewPaginator(opts.Paginator, logger),
		budget:    budget,
		reporter:  reporter,
		pause:     newPauser(seed),
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Run processes events in order. Per-event failures are recorded in the
// event's status; only a lost session or cancellation ends the run early.
// The state is checkpointed before Run returns.
func (c *Crawler) Run(ctx context.Context, events []eventsource.Event) (Summary, error) {
	start := c.now()
	summary := Summary{Statuses: map[string]int{}}
	c.reporter.OnRunStart(len(events))

	var runErr error
	for i, ev := range events {
		if err := c.budget.Check(); err != nil {
			summary.StopReason = err.Error()
			break
		}
		if err := ctx.Err(); err != nil {
			summary.StopReason = err.Error()
			break
		}

		res, err := c.processEvent(ctx, ev, i+1, len(events))
		summary.Events++
		summary.NewParticipants += res.NewParticipants
		summary.Statuses[res.Status]++

		if err != nil {
			if isBudgetErr(err) {
				summary.StopReason = err.Error()
				break
			}
			runErr = err
			break
		}

		if i < len(events)-1 && c.opts.Throttle.Event > 0 {
			if err := c.pause.between(ctx, c.opts.Throttle.Event, c.opts.Throttle.Event+600*time.Millisecond); err != nil {
				summary.StopReason = err.Error()
				break
			}
		}
	}

	if err := c.store.Checkpoint(); err != nil {
		c.logger.Error("❌ Final checkpoint failed", zap.Error(err))
	}

	summary.Duration = c.now().Sub(start)
	if runErr != nil {
		c.reporter.OnRunError(runErr)
		return summary, runErr
	}
	c.reporter.OnRunComplete(summary)
	return summary, nil
}

func infoFor(ev eventsource.Event) runstate.EventInfo {
	return runstate.EventInfo{
		EventID:         ev.ID,
		EventName:       ev.Name,
		Dates:           ev.Dates,
		Club:            ev.Club,
		Place:           ev.Place,
		ParticipantsURL: ev.ParticipantsURL,
	}
}

// processEvent runs one event to a terminal status. The returned error is
// non-nil only when the run must stop.
func (c *Crawler) processEvent(ctx context.Context, ev eventsource.Event, index, total int) (EventResult, error) {
	start := c.now()
	c.reporter.OnEventStart(ev, index, total)

	info := infoFor(ev)
	res := EventResult{Key: info.Key(), EventID: ev.ID}

	if info.Key() == "" {
		res.Status = runstate.StatusNoURL
		c.reporter.OnEventComplete(ev, res)
		return res, nil
	}

	acc, _ := c.store.FindOrCreate(info)
	res.Resumed = len(acc.Participants)
	if res.Resumed > 0 {
		c.logger.Info("  ♻️  Resuming event", zap.String("event", ev.Name), zap.Int("already", res.Resumed))
	}

	var stopErr error
	if ev.ParticipantsURL == "" {
		res.Status = runstate.StatusNoURL
	} else {
		limits := eventLimits{ctx: ctx, budget: c.budget, now: c.now}
		if c.opts.PerEventTimeout > 0 {
			limits.deadline = start.Add(c.opts.PerEventTimeout)
		}
		status, err := c.walkEvent(ctx, ev, acc, limits, &res)
		res.Status = status
		switch {
		case err == nil:
		case errors.Is(err, ErrSession), errors.Is(err, browser.ErrSessionLost):
			stopErr = err
		case isBudgetErr(err) && !errors.Is(err, ErrEventDeadline):
			stopErr = err
			res.Status = runstate.StatusTimeout
		default:
			c.logger.Error("❌ Event failed", zap.String("event", ev.Name), zap.Error(err))
			res.Status = runstate.StatusError
		}
	}

	if err := c.store.FinalizeEvent(acc, res.Status); err != nil {
		c.logger.Error("❌ Checkpoint after event failed", zap.String("event", ev.Name), zap.Error(err))
	}
	res.Total = len(acc.Participants)
	res.Duration = c.now().Sub(start)
	c.reporter.OnEventComplete(ev, res)
	return res, stopErr
}

type listingState int

const (
	listingReady listingState = iota
	listingEmpty
	listingLogin
	listingUnknown
)

// walkEvent opens the listing and extracts every participant not already
// recorded. It returns the event status and an error only for conditions
// that stop the event or the run.
func (c *Crawler) walkEvent(ctx context.Context, ev eventsource.Event, acc *runstate.Accumulator, limits eventLimits, res *EventResult) (string, error) {
	state, err := c.openListing(ctx, ev.ParticipantsURL)
	if err != nil {
		if errors.Is(err, errNavigation) {
			c.logger.Warn("⚠️  Listing did not load", zap.String("url", ev.ParticipantsURL), zap.Error(err))
			return runstate.StatusTimeout, nil
		}
		return runstate.StatusTimeout, err
	}
	if state == listingEmpty {
		// Rows can still arrive under the notice; the walk decides.
		c.logger.Debug("  Empty notice shown, looking for rows anyway", zap.String("event", ev.Name))
	}

	visit := func(ctx context.Context, pageNum int, pids []string) error {
		c.reporter.OnPageStart(ev, pageNum, 0)
		for _, pid := range pids {
			if err := limits.check(); err != nil {
				return err
			}
			if c.store.IsProcessed(acc, pid) {
				continue
			}
			if err := c.visitParticipant(ctx, ev, acc, pid, res); err != nil {
				return err
			}
			if err := c.pause.between(ctx, c.opts.Throttle.ToggleMin, c.opts.Throttle.ToggleMax); err != nil {
				return err
			}
		}
		return c.pause.between(ctx, c.opts.Throttle.PageMin, c.opts.Throttle.PageMax)
	}

	tr, err := c.paginator.Traverse(ctx, c.page, limits.check, visit)
	res.Pages = tr.Pages
	c.store.SetPagesProcessed(acc, tr.Pages)
	if err != nil {
		return runstate.StatusError, err
	}
	if tr.Empty {
		c.dumpPage(ctx, ev, 1)
		return runstate.StatusEmpty, nil
	}
	if tr.StoppedErr != nil {
		if errors.Is(tr.StoppedErr, ErrEventDeadline) {
			c.logger.Warn("⏰ Event time budget spent", zap.String("event", ev.Name))
			return runstate.StatusTimeout, nil
		}
		return runstate.StatusTimeout, tr.StoppedErr
	}
	return runstate.StatusOK, nil
}

// visitParticipant opens, extracts and records one pid. Only errors that
// end the event are returned.
func (c *Crawler) visitParticipant(ctx context.Context, ev eventsource.Event, acc *runstate.Accumulator, pid string, res *EventResult) error {
	panel, err := c.activator.EnsurePanelOpen(ctx, c.page, pid)
	if err != nil {
		if fatalPageErr(ctx, err) {
			return err
		}
		res.Skipped++
		c.reporter.OnParticipantSkipped(ev, pid, err)
		return nil
	}

	ext, err := c.extractor.Extract(ctx, c.page, pid, panel.HTML)
	if err != nil {
		if fatalPageErr(ctx, err) {
			return err
		}
		if errors.Is(err, extract.ErrExtractionMismatch) {
			c.store.FlagForReview(acc, pid)
		}
		res.Skipped++
		c.reporter.OnParticipantSkipped(ev, pid, err)
		return nil
	}

	rec := participant.Record{
		EventID:   ev.ID,
		EventName: ev.Name,
		BinomID:   pid,
		Fields:    ext.Fields,
		Schedule:  ext.Schedule,
	}
	if c.opts.DebugCapture {
		rec.RawPanelHTML = panel.HTML
	}

	if err := c.store.Append(acc, rec); err != nil {
		if errors.Is(err, runstate.ErrDuplicate) {
			res.Skipped++
			c.reporter.OnParticipantSkipped(ev, pid, err)
			return nil
		}
		return err
	}
	res.NewParticipants++
	c.reporter.OnParticipant(ev, rec)
	return nil
}

// openListing loads the participants page and waits until it shows toggles,
// an empty notice or a login redirect. A login redirect or failed load is
// retried once after signing in again.
func (c *Crawler) openListing(ctx context.Context, url string) (listingState, error) {
	state, err := c.loadListing(ctx, url)
	if err = sessionErr(ctx, err); err != nil && !errors.Is(err, errNavigation) {
		return listingUnknown, err
	}
	if err == nil && state != listingLogin {
		return state, nil
	}

	switch {
	case c.auth != nil:
		c.logger.Warn("⚠️  Listing unavailable, signing in again", zap.String("url", url), zap.Error(err))
		if lerr := c.auth.Login(ctx); lerr != nil {
			if ctx.Err() != nil {
				return listingUnknown, ctx.Err()
			}
			return listingUnknown, fmt.Errorf("%w: re-authentication failed: %v", ErrSession, lerr)
		}
	case state == listingLogin:
		return listingUnknown, fmt.Errorf("%w: session expired and no credentials", ErrSession)
	}

	state, err = c.loadListing(ctx, url)
	if err = sessionErr(ctx, err); err != nil {
		return listingUnknown, err
	}
	if state == listingLogin {
		return listingUnknown, fmt.Errorf("%w: still on login page after signing in", ErrSession)
	}
	return state, nil
}

var errNavigation = errors.New("listing navigation failed")

// sessionErr classifies a listing load error: cancellation as is, a lost
// browser as ErrSession, anything else as errNavigation.
func sessionErr(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, browser.ErrSessionLost):
		return fmt.Errorf("%w: %v", ErrSession, err)
	}
	return fmt.Errorf("%w: %v", errNavigation, err)
}

func (c *Crawler) loadListing(ctx context.Context, url string) (listingState, error) {
	if err := c.page.Navigate(ctx, url); err != nil {
		return listingUnknown, err
	}
	_ = c.page.ExecuteScript(ctx, acceptCookiesScript, nil)

	state := listingUnknown
	err := browser.Poll(ctx, c.opts.PageStateTimeout, c.opts.PageStatePoll, func(ctx context.Context) (bool, error) {
		loc, err := c.page.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		if strings.Contains(loc, loginPathPart) {
			state = listingLogin
			return true, nil
		}
		n, err := c.page.Count(ctx, toggleAnyPID)
		if err != nil {
			return false, err
		}
		if n > 0 {
			state = listingReady
			return true, nil
		}
		var text string
		if err := c.page.ExecuteScript(ctx, bodyTextScript, &text); err != nil {
			return false, err
		}
		if emptyNoticeRegex.MatchString(text) {
			state = listingEmpty
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			// No marker yet; traversal still looks for rows.
			return listingUnknown, nil
		}
		return listingUnknown, err
	}
	return state, nil
}

func (c *Crawler) dumpPage(ctx context.Context, ev eventsource.Event, pageNum int) {
	if !c.opts.DebugCapture || c.opts.DebugDir == "" {
		return
	}
	source, err := c.page.PageSource(ctx)
	if err != nil {
		return
	}
	id := ev.ID
	if id == "" {
		id = ev.Name
	}
	path, err := runstate.WriteDebugPage(c.opts.DebugDir, id, pageNum, source)
	if err != nil {
		c.logger.Warn("⚠️  Could not save page dump", zap.Error(err))
		return
	}
	c.logger.Info("💾 Page dump saved", zap.String("path", path))
}
