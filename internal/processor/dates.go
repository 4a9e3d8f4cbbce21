package processor

import (
	"strings"
	"time"
)

// ISODate is the normalized date layout.
const ISODate = "2006-01-02"

// dateLayouts are tried in order. Jira emits the first two; the rest cover
// hand-entered custom fields and older exports.
var dateLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	ISODate,
	"02/Jan/06 3:04 PM",
	"02/Jan/06",
	"2/Jan/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"01/02/2006",
	"2006/01/02",
	"02.01.2006",
}

// NormalizeDate converts a timestamp to YYYY-MM-DD in the timestamp's own
// offset. Returns false when no layout matches.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(ISODate), true
		}
	}
	return "", false
}

// dateOrEmpty normalizes s, returning "" for unparseable input.
func dateOrEmpty(s string) string {
	d, _ := NormalizeDate(s)
	return d
}
