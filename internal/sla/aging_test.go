package sla

import (
	"errors"
	"testing"
	"time"
)

func closedSpan(open, close time.Time) Span { return Span{OpenedAt: open, ClosedAt: &close} }

func TestAgeOf(t *testing.T) {
	ev := Evaluator{Cal: testCalendar()}
	now := at(3, 10, 0)

	age, err := ev.AgeOf(Span{OpenedAt: at(1, 8, 0)}, now)
	if err != nil || age != 18*time.Hour {
		t.Fatalf("open ticket age = %v, %v", age, err)
	}
	age, err = ev.AgeOf(closedSpan(at(1, 8, 0), at(1, 10, 0)), now)
	if err != nil || age != 2*time.Hour {
		t.Fatalf("closed ticket age must freeze at closure, got %v, %v", age, err)
	}
	if _, err := ev.AgeOf(Span{}, now); !errors.Is(err, ErrNoOpenTime) {
		t.Fatalf("expected ErrNoOpenTime, got %v", err)
	}
}

func TestIsOverdue(t *testing.T) {
	ev := Evaluator{Cal: testCalendar()}
	open := Span{OpenedAt: at(1, 8, 0)}
	cases := []struct {
		name string
		s    Span
		now  time.Time
		want bool
	}{
		{"wednesday morning is 16h", open, at(3, 8, 0), false},
		{"exactly the threshold", open, at(3, 17, 0), false},
		{"evening adds nothing", open, at(3, 23, 0), false},
		{"one second past", open, at(4, 8, 0).Add(time.Second), true},
		{"closed tickets never overdue", closedSpan(at(1, 8, 0), at(10, 8, 0)), at(20, 8, 0), false},
		{"missing open time", Span{}, at(20, 8, 0), false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.IsOverdue(tt.s, tt.now, 24*time.Hour); got != tt.want {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
	if !ev.IsOverdue(open, at(3, 8, 0), 8*time.Hour) {
		t.Fatalf("threshold must be configurable")
	}
}

func TestResolutionAndSLA(t *testing.T) {
	ev := Evaluator{Cal: testCalendar()}
	if _, ok := ev.ResolutionDuration(Span{OpenedAt: at(1, 8, 0)}); ok {
		t.Fatalf("open ticket has no resolution")
	}
	s := closedSpan(at(5, 16, 30), at(8, 9, 0))
	d, ok := ev.ResolutionDuration(s)
	if !ok || d != 90*time.Minute {
		t.Fatalf("resolution = %v, %v", d, ok)
	}
	if met, ok := ev.MeetsSLA(s, 90*time.Minute); !ok || !met {
		t.Fatalf("resolution equal to target meets SLA")
	}
	if met, ok := ev.MeetsSLA(s, time.Hour); !ok || met {
		t.Fatalf("expected SLA miss")
	}
	if _, ok := ev.MeetsSLA(Span{OpenedAt: at(1, 8, 0)}, time.Hour); ok {
		t.Fatalf("SLA undefined for open ticket")
	}
}

func TestAverageResolution(t *testing.T) {
	ev := Evaluator{Cal: testCalendar()}
	spans := []Span{
		closedSpan(at(1, 8, 0), at(1, 10, 0)),
		closedSpan(at(1, 8, 0), at(1, 12, 0)),
	}
	avg, ok := ev.AverageResolution(spans)
	if !ok || avg != 3*time.Hour {
		t.Fatalf("average = %v, %v", avg, ok)
	}
	reversed := []Span{spans[1], {OpenedAt: at(2, 8, 0)}, {}, spans[0]}
	if avg2, ok := ev.AverageResolution(reversed); !ok || avg2 != avg {
		t.Fatalf("average must ignore open and invalid tickets and order: %v", avg2)
	}
	if _, ok := ev.AverageResolution([]Span{{OpenedAt: at(1, 8, 0)}}); ok {
		t.Fatalf("no closed tickets means no average")
	}
	if _, ok := ev.AverageResolution(nil); ok {
		t.Fatalf("empty input means no average")
	}
	zero := closedSpan(at(6, 8, 0), at(6, 12, 0))
	if avg, ok := ev.AverageResolution([]Span{zero}); !ok || avg != 0 {
		t.Fatalf("weekend resolution is a valid zero, got %v %v", avg, ok)
	}
}
