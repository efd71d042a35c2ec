package dbx

import "time"

// TimeLayout is a fixed-width RFC3339 form. Timestamps stored as TEXT in
// this layout compare correctly in SQL, which the sync watermark queries
// rely on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout string.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}
