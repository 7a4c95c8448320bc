// Package timefmt parses the two timestamp representations found in
// storefront data: RFC 3339 (the canonical form written by this
// service) and the legacy client pattern "HH:mm DD/MM/YYYY" that older
// order records carry.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

// LegacyLayout is the fixed display pattern the original storefront
// client wrote into order records.
const LegacyLayout = "15:04 02/01/2006"

// Parse accepts an RFC 3339 timestamp or the legacy "HH:mm DD/MM/YYYY"
// pattern. Legacy values are interpreted in the given location.
func Parse(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}

	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(LegacyLayout, value, loc); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// Format renders the canonical RFC 3339 form.
func Format(t time.Time) string {
	return t.Format(time.RFC3339)
}

// FormatLegacy renders the legacy display pattern. Presentation only;
// nothing in this service writes it back to storage.
func FormatLegacy(t time.Time) string {
	return t.Format(LegacyLayout)
}
