package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/extract"
)

const testBaseURL = "https://flow.test"

// fakePage is an in-memory listing driven through the same selectors and
// scripts as the live site. Markup is rendered on every call and queried
// with goquery.
type fakePage struct {
	mu sync.Mutex

	url        string
	loginFirst bool
	navigated  int

	pages   [][]string
	current int

	// stuck makes page controls do nothing.
	stuck bool
	// emptyNotice adds the "no participants" banner.
	emptyNotice bool
	// bodyText is extra text shown above the table.
	bodyText string
	// rowsAfter is the number of renders after navigation that show no rows.
	rowsAfter int
	renders   int
	// scrollBatch, when set, shows that many more rows per scroll to bottom.
	scrollBatch int
	scrolled    int
	// renderDelay is the number of panel_state reads an open panel stays
	// blank for.
	renderDelay int
	neverRender map[string]bool
	// blank panels render a placeholder value and no labels.
	blank map[string]bool
	// dorsals overrides the generated dorsal per pid.
	dorsals     map[string]string
	failScripts map[string]error
	// failOnce errors are returned by the next call only. Keys are script
	// names or "page_source".
	failOnce map[string]error
	outerErr error

	open   map[string]bool
	reads  map[string]int
	clicks map[string]int
}

func newFakePage(pages ...[]string) *fakePage {
	return &fakePage{
		pages:       pages,
		neverRender: map[string]bool{},
		blank:       map[string]bool{},
		dorsals:     map[string]string{},
		failScripts: map[string]error{},
		failOnce:    map[string]error{},
		open:        map[string]bool{},
		reads:       map[string]int{},
		clicks:      map[string]int{},
	}
}

func dorsalFor(pid string) string {
	return fmt.Sprintf("%d", len(pid)*100+int(pid[len(pid)-1]))
}

func panelBody(pid, dorsal string) string {
	return `<div class="grid grid-cols-2">
<div class="text-gray-500 text-sm">Dorsal</div><div class="font-bold text-sm">` + dorsal + `</div>
<div class="text-gray-500 text-sm">Guía</div><div class="font-bold text-sm">Handler ` + pid + `</div>
<div class="text-gray-500 text-sm">Perro</div><div class="font-bold text-sm">Dog ` + pid + `</div>
</div>
<div>
<div class="font-bold text-sm mt-2 border-b border-gray-400">Open Sábado</div>
<div class="text-gray-500 text-sm">Fecha</div><div class="font-bold text-sm">01/06/2024</div>
<div class="text-gray-500 text-sm">Mangas</div><div class="font-bold text-sm">Agility</div>
</div>`
}

func (f *fakePage) ready(pid string) bool {
	return f.open[pid] && !f.neverRender[pid] && f.reads[pid] > f.renderDelay
}

func (f *fakePage) panelMarkup(pid string) string {
	if f.ready(pid) {
		if f.blank[pid] {
			return `<div id="` + pid + `"><div class="font-bold text-sm">-</div></div>`
		}
		dorsal, ok := f.dorsals[pid]
		if !ok {
			dorsal = dorsalFor(pid)
		}
		return `<div id="` + pid + `">` + panelBody(pid, dorsal) + `</div>`
	}
	return `<div id="` + pid + `"><div class="font-bold text-sm"></div></div>`
}

func (f *fakePage) currentIDs() []string {
	if len(f.pages) == 0 {
		return nil
	}
	return f.pages[f.current]
}

// visibleIDs is the part of the current page that has loaded so far.
func (f *fakePage) visibleIDs() []string {
	if f.rowsAfter > 0 && f.renders <= f.rowsAfter {
		return nil
	}
	ids := f.currentIDs()
	if f.scrollBatch > 0 {
		if n := (f.scrolled + 1) * f.scrollBatch; n < len(ids) {
			ids = ids[:n]
		}
	}
	return ids
}

func (f *fakePage) takeFailure(name string) error {
	if err := f.failScripts[name]; err != nil {
		return err
	}
	if err, ok := f.failOnce[name]; ok {
		delete(f.failOnce, name)
		return err
	}
	return nil
}

func (f *fakePage) render() string {
	f.renders++
	var b strings.Builder
	b.WriteString("<html><body>")
	if f.emptyNotice {
		b.WriteString(`<p>No hay participantes inscritos</p>`)
	}
	if f.bodyText != "" {
		b.WriteString(`<p>` + f.bodyText + `</p>`)
	}
	b.WriteString("<table><tbody>")
	for _, pid := range f.visibleIDs() {
		b.WriteString(`<tr><td>` + pid + `</td><td><button phx-click="booking_details_show" phx-value-booking_id="` + pid + `">Ver</button></td></tr>`)
	}
	b.WriteString("</tbody></table><section>")
	for _, pid := range f.currentIDs() {
		if f.open[pid] && !f.neverRender[pid] {
			b.WriteString(f.panelMarkup(pid))
		}
	}
	b.WriteString("</section>")
	if len(f.pages) > 1 {
		b.WriteString(`<nav class="pagination">`)
		for i := range f.pages {
			b.WriteString(fmt.Sprintf(`<a phx-click="page" phx-value-page="%d">%d</a>`, i+1, i+1))
		}
		b.WriteString(`</nav>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (f *fakePage) doc() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(f.render()))
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated++
	f.current = 0
	f.renders = 0
	f.scrolled = 0
	f.open = map[string]bool{}
	f.reads = map[string]int{}
	if f.loginFirst {
		f.url = testBaseURL + "/user/login"
		return nil
	}
	f.url = url
	return nil
}

func (f *fakePage) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) Count(_ context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.doc()
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (f *fakePage) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.doc()
	if err != nil {
		return err
	}
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return browser.ErrNotFound
	}
	f.activate(el)
	return nil
}

func (f *fakePage) activate(el *goquery.Selection) {
	if pid, ok := el.Attr("phx-value-booking_id"); ok {
		f.clicks[pid]++
		if f.open[pid] {
			delete(f.open, pid)
		} else {
			f.open[pid] = true
			f.reads[pid] = 0
		}
		return
	}
	if v, ok := el.Attr("phx-value-page"); ok && !f.stuck {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n >= 1 && n <= len(f.pages) {
			f.current = n - 1
			f.open = map[string]bool{}
		}
	}
}

func (f *fakePage) OuterHTML(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outerErr != nil {
		return "", f.outerErr
	}
	doc, err := f.doc()
	if err != nil {
		return "", err
	}
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return "", browser.ErrNotFound
	}
	return goquery.OuterHtml(el)
}

func (f *fakePage) PageSource(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("page_source"); err != nil {
		return "", err
	}
	return f.render(), nil
}

func (f *fakePage) ExecuteScript(_ context.Context, s browser.Script, out any, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(s.Name); err != nil {
		return err
	}

	var result any
	switch s.Name {
	case collectIDsScript.Name:
		result = append([]string{}, f.visibleIDs()...)
	case panelStateScript.Name:
		pid := args[0].(string)
		present := f.open[pid] && !f.neverRender[pid]
		if present {
			f.reads[pid]++
		}
		result = panelState{Present: present, Ready: present && f.ready(pid)}
	case extract.WalkScript.Name:
		pid := args[0].(string)
		if !f.ready(pid) {
			result = nil
			break
		}
		tokens, err := extract.TokensFromMarkup(f.panelMarkup(pid))
		if err != nil {
			return err
		}
		result = tokens
	case scrollIntoViewScript.Name, scrollByScript.Name:
		result = true
	case scrollToBottomScript.Name:
		f.scrolled++
		result = 1000 + 100*f.scrolled
	case bodyTextScript.Name:
		doc, err := f.doc()
		if err != nil {
			return err
		}
		result = doc.Find("body").Text()
	case setPageSizeScript.Name, acceptCookiesScript.Name:
		result = nil
	case clickByTextScript.Name:
		want := fmt.Sprint(args[0])
		doc, err := f.doc()
		if err != nil {
			return err
		}
		el := doc.Find("a, button").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.TrimSpace(s.Text()) == want
		}).First()
		if el.Length() == 0 {
			result = false
			break
		}
		f.activate(el)
		result = true
	default:
		return fmt.Errorf("unexpected script %q", s.Name)
	}

	if out == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

type fakeAuth struct {
	page  *fakePage
	calls int
	err   error
}

func (a *fakeAuth) Login(context.Context) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	a.page.mu.Lock()
	a.page.loginFirst = false
	a.page.mu.Unlock()
	return nil
}
