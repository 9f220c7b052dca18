package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Class predicates shared by every strategy. Panels are styled with
// utility classes only, so the classes are the structure.

func classSet(s *goquery.Selection) map[string]bool {
	attr, _ := s.Attr("class")
	fields := strings.Fields(attr)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func isLabelNode(s *goquery.Selection) bool {
	c := classSet(s)
	return c["text-gray-500"] && c["text-sm"]
}

func isValueNode(s *goquery.Selection) bool {
	c := classSet(s)
	return c["font-bold"] && c["text-sm"]
}

func isHeaderNode(s *goquery.Selection) bool {
	c := classSet(s)
	if c["border-b"] && c["border-gray-400"] {
		return true
	}
	if !c["font-bold"] || !c["text-sm"] {
		return false
	}
	for class := range c {
		if strings.HasPrefix(class, "mt-") {
			return true
		}
	}
	return false
}

func parse(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// FindByID returns the element whose id attribute equals id exactly.
func FindByID(doc *goquery.Document, id string) *goquery.Selection {
	return doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	}).First()
}

// panelRoot returns the outermost element of serialized panel markup.
func panelRoot(doc *goquery.Document) *goquery.Selection {
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	return root
}
