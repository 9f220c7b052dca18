package participant

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	emojiRegex      = regexp.MustCompile(`[\x{1F1E6}-\x{1F1FF}\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F700}-\x{1F7FF}\x{1F780}-\x{1F7FF}\x{1F800}-\x{1F8FF}\x{1F900}-\x{1F9FF}\x{1FA00}-\x{1FA6F}\x{1FA70}-\x{1FAFF}\x{2700}-\x{27BF}\x{2600}-\x{26FF}]+`)
	blankRunRegex   = regexp.MustCompile(`[ \t\x{00A0}]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

const trimSet = " \t\r\n-•*·:;"

// Clean normalizes scraped text: NFKC, emoji removal, collapsed blanks and
// trimmed decoration characters.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = emojiRegex.ReplaceAllString(s, "")
	s = blankRunRegex.ReplaceAllString(s, " ")
	return strings.Trim(s, trimSet)
}

// NormalizeLabel turns label text into the lookup form used by the label table.
func NormalizeLabel(label string) string {
	label = Clean(label)
	label = whitespaceRegex.ReplaceAllString(label, " ")
	return strings.ToLower(label)
}
