package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fortuna/flowscrape/internal/browser"
)

// Discover returns the booking ids present on the current listing page,
// deduplicated, in first-seen order. Calling it again after the page grows
// returns the longer list with the same prefix.
func Discover(ctx context.Context, page browser.Page) ([]string, error) {
	var ids []string
	err := page.ExecuteScript(ctx, collectIDsScript, &ids)
	if err != nil {
		if fatalPageErr(ctx, err) {
			return nil, err
		}
		source, serr := page.PageSource(ctx)
		if serr != nil {
			return nil, fmt.Errorf("discover ids: %w", err)
		}
		ids, serr = idsFromMarkup(source)
		if serr != nil {
			return nil, fmt.Errorf("discover ids: %w", serr)
		}
	}
	return dedupe(ids), nil
}

func idsFromMarkup(source string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	var ids []string
	doc.Find(toggleAnyPID).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(pidAttr); ok && v != "" {
			ids = append(ids, v)
		}
	})
	return ids, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// fatalPageErr reports errors after which the page must not be used again
// in this event.
func fatalPageErr(ctx context.Context, err error) bool {
	return errors.Is(err, browser.ErrSessionLost) || ctx.Err() != nil
}
