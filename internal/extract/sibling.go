package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fortuna/flowscrape/internal/participant"
)

const openBlockHops = 16

// SiblingPair reads a panel from its serialized markup. Each label takes
// the first non-empty value among its next 8 div siblings. Each "Open ..."
// header starts a schedule block that collects the values following a
// date label and a runs label, up to the next "Open ..." header.
func SiblingPair(panelHTML string) (participant.Extraction, error) {
	doc, err := parse(panelHTML)
	if err != nil {
		return participant.Extraction{}, err
	}
	out := participant.NewExtraction()

	doc.Find("div").Each(func(_ int, lab *goquery.Selection) {
		if !isLabelNode(lab) {
			return
		}
		key, ok := participant.LookupLabel(lab.Text())
		if !ok {
			return
		}
		var value string
		lab.NextAllFiltered("div").EachWithBreak(func(i int, sib *goquery.Selection) bool {
			if i >= nextValueHops {
				return false
			}
			if isValueNode(sib) {
				value = participant.Clean(sib.Text())
			}
			return value == ""
		})
		out.Fields.Set(key, value)
	})

	doc.Find("div").Each(func(_ int, h *goquery.Selection) {
		if !isValueNode(h) {
			return
		}
		title := participant.Clean(h.Text())
		if !isOpenHeader(title) {
			return
		}
		entry := participant.ScheduleEntry{DayLabel: title}
		h.NextAllFiltered("div").EachWithBreak(func(i int, cur *goquery.Selection) bool {
			if i >= openBlockHops {
				return false
			}
			text := participant.Clean(cur.Text())
			if isValueNode(cur) && isOpenHeader(text) {
				return false
			}
			switch participant.ClassifyScheduleLabel(text) {
			case participant.DateLabel:
				entry.Date = participant.Clean(cur.NextAllFiltered("div").First().Text())
			case participant.RunsLabel:
				entry.Runs = participant.Clean(cur.NextAllFiltered("div").First().Text())
			}
			return true
		})
		out.Schedule = append(out.Schedule, entry)
	})

	return out, nil
}

func isOpenHeader(text string) bool {
	return strings.HasPrefix(strings.ToLower(text), "open ")
}
