package sla

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the text form of ticket timestamps, in the service's fixed zone.
const Layout = "02/01/2006 15:04:05"

// ParseTimestamp reads a Layout timestamp as civil time in loc.
func ParseTimestamp(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrNoOpenTime
	}
	return time.ParseInLocation(Layout, text, loc)
}

// FormatTimestamp renders t in loc using Layout.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(Layout)
}

// ParseSpan builds a Span from stored text. A missing or empty closed value
// means the ticket is open; an unparsable one is an error like a bad opening.
func ParseSpan(opened string, closed *string, loc *time.Location) (Span, error) {
	o, err := ParseTimestamp(opened, loc)
	if err != nil {
		return Span{}, fmt.Errorf("opened %q: %w", opened, err)
	}
	s := Span{OpenedAt: o}
	if closed != nil && strings.TrimSpace(*closed) != "" {
		c, err := ParseTimestamp(*closed, loc)
		if err != nil {
			return Span{}, fmt.Errorf("closed %q: %w", *closed, err)
		}
		s.ClosedAt = &c
	}
	return s, nil
}

// FormatAge renders an age as "2d 3h", "3h 15m" or "45m". A day is 24 hours
// of business time.
func FormatAge(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// FormatHoursMinutes renders d as "Hh Mm".
func FormatHoursMinutes(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
}
