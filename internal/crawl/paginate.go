package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/participant"
)

// ErrPageNavigation is returned when the control for a page cannot be found
// or clicking it does not change the listing.
var ErrPageNavigation = errors.New("page navigation failed")

// Mode selects how a listing is traversed.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModePaged    Mode = "paged"
	ModeInfinite Mode = "infinite"
	ModeSingle   Mode = "single"
)

// ParseMode validates a pagination mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModePaged, ModeInfinite, ModeSingle:
		return m, nil
	}
	return "", fmt.Errorf("unknown pagination mode %q", s)
}

// LayoutKind is the result of listing detection.
type LayoutKind string

const (
	SinglePage LayoutKind = "single_page"
	Paged      LayoutKind = "paged"
	Infinite   LayoutKind = "infinite"
)

// Layout describes a detected listing.
type Layout struct {
	Kind  LayoutKind
	Total int
}

const maxPageNumber = 200

// PaginatorOptions configures listing traversal.
type PaginatorOptions struct {
	Mode         Mode
	MaxPages     int
	MaxScrolls   int
	ScrollWait   time.Duration
	ScrollIdle   time.Duration
	NavTimeout   time.Duration
	PollInterval time.Duration
	SizeSettle   time.Duration
}

// DefaultPaginatorOptions mirrors the pacing the live site needs.
func DefaultPaginatorOptions() PaginatorOptions {
	return PaginatorOptions{
		Mode:         ModeAuto,
		MaxScrolls:   40,
		ScrollWait:   750 * time.Millisecond,
		ScrollIdle:   2500 * time.Millisecond,
		NavTimeout:   15 * time.Second,
		PollInterval: 250 * time.Millisecond,
		SizeSettle:   800 * time.Millisecond,
	}
}

// Paginator detects listing layout and walks it.
type Paginator struct {
	opts   PaginatorOptions
	logger *zap.Logger
}

func NewPaginator(opts PaginatorOptions, logger *zap.Logger) *Paginator {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = DefaultPaginatorOptions().MaxScrolls
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPaginatorOptions().PollInterval
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = DefaultPaginatorOptions().NavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{opts: opts, logger: logger}
}

// Detect bumps the page size to the largest offered, then classifies the
// listing.
func (p *Paginator) Detect(ctx context.Context, page browser.Page) (Layout, error) {
	var size *string
	if err := page.ExecuteScript(ctx, setPageSizeScript, &size, pageSizeSelectors, pageSizeCandidates); err != nil {
		if fatalPageErr(ctx, err) {
			return Layout{}, err
		}
	} else if size != nil {
		p.logger.Info("  ⬆️  Page size set", zap.String("size", *size))
		if err := browser.Sleep(ctx, p.opts.SizeSettle); err != nil {
			return Layout{}, err
		}
	}

	switch p.opts.Mode {
	case ModeSingle:
		return Layout{Kind: SinglePage, Total: 1}, nil
	case ModeInfinite:
		return Layout{Kind: Infinite, Total: 1}, nil
	}

	source, err := page.PageSource(ctx)
	if err != nil {
		return Layout{}, fmt.Errorf("detect pagination: %w", err)
	}
	total, err := maxPageReference(source)
	if err != nil {
		return Layout{}, err
	}

	if total > 1 {
		if p.opts.MaxPages > 0 && total > p.opts.MaxPages {
			p.logger.Info("  Page cap applied", zap.Int("pages", total), zap.Int("max_pages", p.opts.MaxPages))
			total = p.opts.MaxPages
		}
		p.logger.Info("  🔍 Pagination detected", zap.Int("pages", total))
		return Layout{Kind: Paged, Total: total}, nil
	}
	if p.opts.Mode == ModePaged {
		return Layout{Kind: SinglePage, Total: 1}, nil
	}
	return Layout{Kind: Infinite, Total: 1}, nil
}

// maxPageReference returns the highest page number referenced by
// phx-value-page attributes, else by numeric pagination button text,
// within 1..200. It returns 0 when there is none.
func maxPageReference(source string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	best := 0
	consider := func(s string) {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil && n >= 1 && n <= maxPageNumber && n > best {
			best = n
		}
	}

	doc.Find("a[phx-value-page], button[phx-value-page]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("phx-value-page")
		consider(v)
	})
	if best > 0 {
		return best, nil
	}
	doc.Find(".pagination a, .pagination button, .paginate_button").Each(func(_ int, s *goquery.Selection) {
		consider(participant.Clean(s.Text()))
	})
	return best, nil
}

// LoadAll scrolls an infinite listing until the row count stops growing
// for ScrollIdle or MaxScrolls is reached.
func (p *Paginator) LoadAll(ctx context.Context, page browser.Page, check func() error) (int, error) {
	last := -1
	idleSince := time.Now()
	for i := 0; i < p.opts.MaxScrolls; i++ {
		if err := check(); err != nil {
			return last, err
		}
		if err := page.ExecuteScript(ctx, scrollToBottomScript, nil); err != nil && fatalPageErr(ctx, err) {
			return last, err
		}
		if err := browser.Sleep(ctx, p.opts.ScrollWait); err != nil {
			return last, err
		}
		n, err := page.Count(ctx, rowsSelector)
		if err != nil {
			if fatalPageErr(ctx, err) {
				return last, err
			}
			continue
		}
		if n > last {
			last = n
			idleSince = time.Now()
		} else if time.Since(idleSince) >= p.opts.ScrollIdle {
			break
		}
	}
	return last, nil
}

// GoTo moves the listing to page n: by page attribute, then by a link
// whose text is n found in the markup, then by an in-page text match.
// It then waits for the row count to change.
func (p *Paginator) GoTo(ctx context.Context, page browser.Page, n int) error {
	before, err := page.Count(ctx, rowsSelector)
	if err != nil && fatalPageErr(ctx, err) {
		return err
	}

	clicked, err := p.clickPageControl(ctx, page, n)
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("page %d: no control: %w", n, ErrPageNavigation)
	}

	err = browser.Poll(ctx, p.opts.NavTimeout, p.opts.PollInterval, func(ctx context.Context) (bool, error) {
		after, err := page.Count(ctx, rowsSelector)
		return after != before, err
	})
	if err != nil {
		if fatalPageErr(ctx, err) {
			return err
		}
		// Same row count is normal between full pages; the caller compares
		// the ids it finds.
		p.logger.Debug("  Row count unchanged after page click", zap.Int("page", n))
	}
	return nil
}

func (p *Paginator) clickPageControl(ctx context.Context, page browser.Page, n int) (bool, error) {
	num := strconv.Itoa(n)
	for _, sel := range []string{
		"a[phx-value-page='" + num + "']",
		"button[phx-value-page='" + num + "']",
		"a[data-page='" + num + "']",
	} {
		count, err := page.Count(ctx, sel)
		if err != nil {
			if fatalPageErr(ctx, err) {
				return false, err
			}
			continue
		}
		if count == 0 {
			continue
		}
		if err := page.Click(ctx, sel); err == nil {
			return true, nil
		} else if fatalPageErr(ctx, err) {
			return false, err
		}
	}

	source, err := page.PageSource(ctx)
	if err != nil && fatalPageErr(ctx, err) {
		return false, err
	}
	if err == nil {
		if sel, ok := selectorForText(source, num); ok {
			if err := page.Click(ctx, sel); err == nil {
				return true, nil
			} else if fatalPageErr(ctx, err) {
				return false, err
			}
		}
	}

	var ok bool
	if err := page.ExecuteScript(ctx, clickByTextScript, &ok, num); err != nil {
		if fatalPageErr(ctx, err) {
			return false, err
		}
		return false, nil
	}
	return ok, nil
}

// selectorForText finds the first link or button whose trimmed text equals
// text and returns a structural selector for it.
func selectorForText(source, text string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return "", false
	}
	match := doc.Find("a, button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == text
	}).First()
	if match.Length() == 0 {
		return "", false
	}
	return cssPath(match), true
}

// cssPath builds an html > ... > tag:nth-child(k) path to s.
func cssPath(s *goquery.Selection) string {
	var parts []string
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		tag := goquery.NodeName(cur)
		if tag == "html" {
			parts = append(parts, "html")
			break
		}
		if id, ok := cur.Attr("id"); ok && id != "" {
			parts = append(parts, "[id='"+quoteAttr(id)+"']")
			break
		}
		idx := cur.PrevAll().Length() + 1
		parts = append(parts, fmt.Sprintf("%s:nth-child(%d)", tag, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// TraverseResult reports how a listing walk ended.
type TraverseResult struct {
	Layout     Layout
	Pages      int
	Visited    int
	Empty      bool
	NavFailed  bool
	StoppedErr error
}

// VisitFunc handles the not-yet-seen ids of one page.
type VisitFunc func(ctx context.Context, pageNum int, pids []string) error

// Traverse walks every page of the current listing in ascending order and
// hands each id to visit once. Zero ids on page 1 marks the listing empty;
// zero ids on a later page, or a page identical to the previous one, ends
// the walk. check is polled before each page.
func (p *Paginator) Traverse(ctx context.Context, page browser.Page, check func() error, visit VisitFunc) (TraverseResult, error) {
	var res TraverseResult

	layout, err := p.Detect(ctx, page)
	if err != nil {
		return res, err
	}
	res.Layout = layout

	if layout.Kind == Infinite {
		if _, err := p.LoadAll(ctx, page, check); err != nil {
			if isBudgetErr(err) {
				res.StoppedErr = err
				return res, nil
			}
			return res, err
		}
	}

	seen := make(map[string]struct{})
	var previous []string
	for n := 1; n <= layout.Total; n++ {
		if err := check(); err != nil {
			res.StoppedErr = err
			return res, nil
		}

		if n > 1 {
			if err := p.GoTo(ctx, page, n); err != nil {
				if fatalPageErr(ctx, err) {
					return res, err
				}
				p.logger.Warn("  ❌ Could not reach page, ending traversal", zap.Int("page", n), zap.Error(err))
				res.NavFailed = true
				return res, nil
			}
		}

		pids, err := Discover(ctx, page)
		if err != nil {
			return res, err
		}
		if len(pids) == 0 && n == 1 && layout.Kind != Infinite {
			// Rows may still be arriving by scroll.
			if _, err := p.LoadAll(ctx, page, check); err != nil && !isBudgetErr(err) {
				return res, err
			}
			if pids, err = Discover(ctx, page); err != nil {
				return res, err
			}
		}
		if len(pids) == 0 {
			if n == 1 {
				res.Empty = true
			}
			return res, nil
		}
		if n > 1 && sameIDs(pids, previous) {
			p.logger.Warn("  ❌ Page did not change, ending traversal", zap.Int("page", n))
			res.NavFailed = true
			return res, nil
		}
		previous = pids

		fresh := make([]string, 0, len(pids))
		for _, pid := range pids {
			if _, ok := seen[pid]; ok {
				continue
			}
			seen[pid] = struct{}{}
			fresh = append(fresh, pid)
		}
		res.Pages = n
		res.Visited += len(fresh)

		if err := visit(ctx, n, fresh); err != nil {
			if isBudgetErr(err) {
				res.StoppedErr = err
				return res, nil
			}
			return res, err
		}
	}
	return res, nil
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
