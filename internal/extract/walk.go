package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/participant"
)

// Token kinds emitted by the panel walk.
const (
	TokenHeader = "header"
	TokenLabel  = "label"
)

// nextValueHops bounds the label to value sibling scan.
const nextValueHops = 8

// Token is one classified element from a pre-order walk of a panel.
// Value is set for labels: the text of the next value sibling.
type Token struct {
	Kind  string `json:"kind"`
	Text  string `json:"text"`
	Value string `json:"value,omitempty"`
}

// WalkScript walks the live panel with id arguments[0] and returns its
// tokens, or null when the panel is not in the DOM.
var WalkScript = browser.Script{
	Name: "panel_walk",
	Source: `
const root = document.getElementById(arguments[0]);
if (!root) return null;
const classes = el => {
  const cn = el.className;
  if (!cn) return [];
  const s = typeof cn === 'string' ? cn : ('baseVal' in cn ? String(cn.baseVal) : String(cn));
  return s.trim().split(/\s+/);
};
const isHeader = el => {
  const c = classes(el);
  return (c.includes('border-b') && c.includes('border-gray-400')) ||
    (c.includes('font-bold') && c.includes('text-sm') && c.some(x => /^mt-/.test(x)));
};
const isLabel = el => { const c = classes(el); return c.includes('text-gray-500') && c.includes('text-sm'); };
const isValue = el => { const c = classes(el); return c.includes('font-bold') && c.includes('text-sm'); };
const text = el => (el && el.textContent) ? el.textContent.trim() : '';
const nextValue = el => {
  let cur = el;
  for (let i = 0; i < 8; i++) {
    cur = cur && cur.nextElementSibling;
    if (!cur) break;
    if (isValue(cur)) return cur;
  }
  return null;
};
const walker = document.createTreeWalker(root, NodeFilter.SHOW_ELEMENT, null);
const tokens = [];
let node = walker.currentNode;
while (node) {
  if (isHeader(node)) tokens.push({kind: 'header', text: text(node)});
  else if (isLabel(node)) tokens.push({kind: 'label', text: text(node), value: text(nextValue(node))});
  node = walker.nextNode();
}
return tokens;`,
}

// TokensFromMarkup produces the same token stream as WalkScript from
// serialized panel markup.
func TokensFromMarkup(panelHTML string) ([]Token, error) {
	doc, err := parse(panelHTML)
	if err != nil {
		return nil, err
	}
	root := panelRoot(doc)

	var tokens []Token
	visit := func(s *goquery.Selection) {
		switch {
		case isHeaderNode(s):
			tokens = append(tokens, Token{Kind: TokenHeader, Text: s.Text()})
		case isLabelNode(s):
			tokens = append(tokens, Token{Kind: TokenLabel, Text: s.Text(), Value: nextValueText(s)})
		}
	}
	root.Each(func(_ int, s *goquery.Selection) { visit(s) })
	root.Find("*").Each(func(_ int, s *goquery.Selection) { visit(s) })
	return tokens, nil
}

func nextValueText(s *goquery.Selection) string {
	cur := s
	for i := 0; i < nextValueHops; i++ {
		cur = cur.Next()
		if cur.Length() == 0 {
			return ""
		}
		if isValueNode(cur) {
			return cur.Text()
		}
	}
	return ""
}

// AssembleWalk applies the label table and the date/runs pair buffer to a
// token stream. A schedule entry is emitted each time both a date and a
// runs value have been seen since the last one, tagged with the latest
// header.
func AssembleWalk(tokens []Token) participant.Extraction {
	out := participant.NewExtraction()

	var day string
	var date, runs *string
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenHeader:
			if t := participant.Clean(tok.Text); t != "" {
				day = t
			}
		case TokenLabel:
			value := participant.Clean(tok.Value)
			switch participant.ClassifyScheduleLabel(tok.Text) {
			case participant.DateLabel:
				date = &value
			case participant.RunsLabel:
				runs = &value
			default:
				if key, ok := participant.LookupLabel(tok.Text); ok {
					out.Fields.Set(key, value)
				}
			}

			if date != nil && runs != nil {
				out.Schedule = append(out.Schedule, participant.ScheduleEntry{
					DayLabel: day,
					Date:     *date,
					Runs:     *runs,
				})
				date, runs = nil, nil
			}
		}
	}
	return out
}
