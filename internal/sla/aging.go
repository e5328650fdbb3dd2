package sla

import (
	"errors"
	"time"
)

// ErrNoOpenTime marks a ticket whose opening time is missing, so no age can be
// derived from it.
var ErrNoOpenTime = errors.New("sla: ticket has no opening time")

// Span is the part of a ticket the evaluator reads.
type Span struct {
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Closed reports whether the ticket has a closing time.
func (s Span) Closed() bool { return s.ClosedAt != nil }

// Evaluator classifies tickets using business time from Cal. It never reads
// the wall clock; callers pass now explicitly.
type Evaluator struct {
	Cal *Calendar
}

// AgeOf is the business time since opening. It freezes at closure.
func (e Evaluator) AgeOf(s Span, now time.Time) (time.Duration, error) {
	if s.OpenedAt.IsZero() {
		return 0, ErrNoOpenTime
	}
	end := now
	if s.ClosedAt != nil {
		end = *s.ClosedAt
	}
	return e.Cal.BusinessDuration(s.OpenedAt, end), nil
}

// IsOverdue reports whether an open ticket is older than threshold.
// Reaching the threshold exactly is not overdue.
func (e Evaluator) IsOverdue(s Span, now time.Time, threshold time.Duration) bool {
	if s.Closed() {
		return false
	}
	age, err := e.AgeOf(s, now)
	if err != nil {
		return false
	}
	return age > threshold
}

// ResolutionDuration is defined only for closed tickets.
func (e Evaluator) ResolutionDuration(s Span) (time.Duration, bool) {
	if !s.Closed() || s.OpenedAt.IsZero() {
		return 0, false
	}
	return e.Cal.BusinessDuration(s.OpenedAt, *s.ClosedAt), true
}

// MeetsSLA reports whether a closed ticket was resolved within target. ok is
// false for open tickets.
func (e Evaluator) MeetsSLA(s Span, target time.Duration) (met bool, ok bool) {
	d, ok := e.ResolutionDuration(s)
	if !ok {
		return false, false
	}
	return d <= target, true
}

// AverageResolution is the mean resolution time over the closed tickets in
// spans. ok is false when none of them has a resolution time.
func (e Evaluator) AverageResolution(spans []Span) (time.Duration, bool) {
	var sum time.Duration
	n := 0
	for _, s := range spans {
		d, ok := e.ResolutionDuration(s)
		if !ok {
			continue
		}
		sum += d
		n++
	}
	if n == 0 {
		return 0, false
	}
	return (sum / time.Duration(n)).Truncate(time.Second), true
}
