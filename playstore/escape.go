package playstore

import (
	"html"
	"strings"
	"time"

	"github.com/c360studio/trawler/core"
)

// timeLayouts cover the formats the store mixes into one payload:
// RFC 3339 from API surfaces and the human-readable forms of the
// listing page.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Escape replaces every NUL byte with the Unicode replacement
// character and HTML-escapes the rest. MongoDB rejects NUL inside
// strings, and the store occasionally leaks raw markup into text
// fields.
func Escape(s string) string {
	return html.EscapeString(strings.ReplaceAll(s, "\x00", "�"))
}

// escapeAny applies Escape to a string value; response fields arrive
// untyped and anything else maps to the empty string.
func escapeAny(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return Escape(s)
}

// parseEpoch normalises the store's loosely typed timestamps: time
// values from the scraper, numeric Unix seconds, or one of the known
// string layouts. The second return is false for anything it cannot
// read, and callers leave the field unset rather than fail the record.
func parseEpoch(value any) (core.EpochTime, bool) {
	switch v := value.(type) {
	case time.Time:
		return core.Epoch(v.UTC()), true
	case core.EpochTime:
		return v, true
	case float64:
		return core.Epoch(time.Unix(int64(v), 0).UTC()), true
	case int:
		return core.Epoch(time.Unix(int64(v), 0).UTC()), true
	case int64:
		return core.Epoch(time.Unix(v, 0).UTC()), true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, v); err == nil {
				return core.Epoch(parsed.UTC()), true
			}
		}
	}
	return core.EpochTime{}, false
}
