package crawl

import (
	"strings"

	"github.com/fortuna/flowscrape/internal/browser"
)

const (
	pidAttr       = "phx-value-booking_id"
	rowsSelector  = "tbody tr"
	toggleAnyPID  = "[phx-click='booking_details_show']"
	loginPathPart = "/user/login"
)

// quoteAttr escapes v for use inside a single-quoted CSS attribute value.
func quoteAttr(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func toggleSelector(pid string) string {
	return "[phx-click='booking_details_show'][phx-value-booking_id='" + quoteAttr(pid) + "']"
}

func panelSelector(pid string) string {
	return "[id='" + quoteAttr(pid) + "']"
}

// Page size selects seen on the listing, and the sizes tried, largest first.
var (
	pageSizeSelectors = []string{
		"select[name='per-page']",
		"select[data-testid='rows-per-page']",
		".dataTables_length select",
		"select[aria-label*='Rows']",
		"select[aria-label*='rows']",
	}
	pageSizeCandidates = []string{"1000", "500", "250", "200", "100"}
)

// Scripts run in the listing page. Each is a function body; see
// browser.Script.
var (
	// collectIDsScript returns booking ids from the toggles, from toggles
	// inside rows, and from detail-looking controls, in document order.
	collectIDsScript = browser.Script{
		Name: "collect_booking_ids",
		Source: `
const out = [];
document.querySelectorAll("[phx-click='booking_details_show']").forEach(el => {
  const v = el.getAttribute('phx-value-booking_id'); if (v) out.push(v);
});
document.querySelectorAll("tr, [class*='participant'], [class*='booking']").forEach(el => {
  const btn = el.querySelector("[phx-click='booking_details_show']");
  const v = btn ? btn.getAttribute('phx-value-booking_id') : null; if (v) out.push(v);
});
document.querySelectorAll('button, a, div').forEach(el => {
  if (/detalle|ver|más|expand|details/i.test(el.textContent || '')) {
    const v = el.getAttribute('phx-value-booking_id'); if (v) out.push(v);
  }
});
return out;`,
	}

	// panelStateScript reports whether the panel with id arguments[0] is in
	// the DOM and holds at least one value node with text.
	panelStateScript = browser.Script{
		Name: "panel_state",
		Source: `
const root = document.getElementById(arguments[0]);
if (!root) return {present: false, ready: false};
const ready = Array.from(root.querySelectorAll('div.font-bold.text-sm'))
  .some(el => (el.textContent || '').trim() !== '');
return {present: true, ready: ready};`,
	}

	scrollIntoViewScript = browser.Script{
		Name: "scroll_into_view",
		Source: `
const el = document.querySelector(arguments[0]);
if (!el) return false;
el.scrollIntoView({block: 'center'});
return true;`,
	}

	scrollByScript = browser.Script{
		Name:   "scroll_by",
		Source: `window.scrollBy(0, arguments[0]); return true;`,
	}

	scrollToBottomScript = browser.Script{
		Name:   "scroll_to_bottom",
		Source: `window.scrollTo(0, document.body.scrollHeight); return document.body.scrollHeight;`,
	}

	bodyTextScript = browser.Script{
		Name:   "body_text",
		Source: `return document.body ? (document.body.innerText || '') : '';`,
	}

	// setPageSizeScript selects the first candidate size (arguments[1])
	// offered by the first matching select (arguments[0]) and fires change.
	setPageSizeScript = browser.Script{
		Name: "set_page_size",
		Source: `
const selectors = arguments[0], sizes = arguments[1];
for (const css of selectors) {
  const sel = document.querySelector(css);
  if (!sel) continue;
  for (const size of sizes) {
    const opt = Array.from(sel.options).find(o => o.value === size || (o.textContent || '').trim() === size);
    if (!opt) continue;
    if (sel.value === opt.value) return size;
    sel.value = opt.value;
    sel.dispatchEvent(new Event('input', {bubbles: true}));
    sel.dispatchEvent(new Event('change', {bubbles: true}));
    return size;
  }
}
return null;`,
	}

	// clickByTextScript clicks the first link or button whose trimmed text
	// equals arguments[0].
	clickByTextScript = browser.Script{
		Name: "click_by_text",
		Source: `
const want = String(arguments[0]);
const el = Array.from(document.querySelectorAll('a, button'))
  .find(e => (e.textContent || '').trim() === want);
if (!el) return false;
el.scrollIntoView({block: 'center'});
el.click();
return true;`,
	}

	acceptCookiesScript = browser.Script{
		Name: "accept_cookies",
		Source: `
const re = /^(aceptar|acepto|aceptar todo|aceptar todas|accept|accept all|allow all|de acuerdo|ok)$/i;
const el = Array.from(document.querySelectorAll('button, a'))
  .find(e => re.test((e.textContent || '').trim()));
if (!el) return false;
el.click();
return true;`,
	}
)
