package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/fortuna/flowscrape/internal/participant"
)

// Positional pairs the Nth label with the Nth value inside the element
// with id pid, ignoring grouping. Schedule rows come from bordered headers
// and their first and second following value siblings.
func Positional(pageSource, pid string) (participant.Extraction, error) {
	doc, err := parse(pageSource)
	if err != nil {
		return participant.Extraction{}, err
	}
	out := participant.NewExtraction()

	root := FindByID(doc, pid)
	if root.Length() == 0 {
		return out, nil
	}

	labels := root.Find("div.text-gray-500.text-sm")
	values := root.Find("div.font-bold.text-sm")
	n := labels.Length()
	if values.Length() < n {
		n = values.Length()
	}
	for i := 0; i < n; i++ {
		key, ok := participant.LookupLabel(labels.Eq(i).Text())
		if !ok {
			continue
		}
		out.Fields.Set(key, values.Eq(i).Text())
	}

	root.Find("div.border-b.border-gray-400").Each(func(_ int, h *goquery.Selection) {
		following := h.NextAllFiltered("div.font-bold.text-sm")
		out.Schedule = append(out.Schedule, participant.ScheduleEntry{
			DayLabel: participant.Clean(h.Text()),
			Date:     participant.Clean(following.Eq(0).Text()),
			Runs:     participant.Clean(following.Eq(1).Text()),
		})
	})

	return out, nil
}
