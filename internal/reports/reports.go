// Package reports summarizes tickets for the dashboard, the technicians'
// panel and the period report.
package reports

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/sla"
)

var ErrInvalidPeriod = errors.New("reports: start date after end date")

// Count is a labelled ticket count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Params selects and judges the tickets of a period report. From and To are
// civil dates; both days are included whole.
type Params struct {
	From         time.Time
	To           time.Time
	UBS          []string
	Now          time.Time
	OverdueAfter time.Duration
	SLATarget    time.Duration
}

// Report is the period report.
type Report struct {
	From                 string            `json:"from"`
	To                   string            `json:"to"`
	UBS                  []string          `json:"ubs,omitempty"`
	Total                int               `json:"total"`
	Open                 int               `json:"open"`
	Closed               int               `json:"closed"`
	Overdue              int               `json:"overdue"`
	Skipped              int               `json:"skipped"`
	AvgResolutionSeconds *int64            `json:"avg_resolution_seconds"`
	AvgResolution        string            `json:"avg_resolution,omitempty"`
	SLATargetHours       float64           `json:"sla_target_hours"`
	SLAMet               int               `json:"sla_met"`
	SLAMissed            int               `json:"sla_missed"`
	SLAAttainment        *float64          `json:"sla_attainment"`
	ByUBS                []Count           `json:"by_ubs"`
	TopDefects           []Count           `json:"top_defects"`
	Tickets              []chamados.Record `json:"tickets"`
}

const topDefects = 10

// Build filters records to the period and UBS list of p and aggregates them.
// Records whose opening time cannot be read are counted in Skipped and left
// out of every other figure. A closed record with an unreadable closing time
// is counted as closed but left out of the resolution and SLA figures.
func Build(records []chamados.Record, p Params, ev sla.Evaluator) (Report, error) {
	loc := ev.Cal.Location
	fy, fm, fd := p.From.Date()
	ty, tm, td := p.To.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	end := time.Date(ty, tm, td+1, 0, 0, 0, 0, loc)
	if start.After(end.Add(-time.Second)) {
		return Report{}, ErrInvalidPeriod
	}
	wanted := map[string]bool{}
	for _, u := range p.UBS {
		wanted[u] = true
	}
	rep := Report{
		From:           start.Format("2006-01-02"),
		To:             end.Add(-time.Second).Format("2006-01-02"),
		UBS:            p.UBS,
		SLATargetHours: p.SLATarget.Hours(),
		ByUBS:          []Count{},
		TopDefects:     []Count{},
		Tickets:        []chamados.Record{},
	}
	byUBS := map[string]int{}
	defects := map[string]int{}
	spans := []sla.Span{}
	for _, r := range records {
		s, err := r.Span(loc)
		badClose := false
		if err != nil {
			opened, oerr := sla.ParseTimestamp(r.OpenedAt, loc)
			if oerr != nil {
				rep.Skipped++
				continue
			}
			s, badClose = sla.Span{OpenedAt: opened}, true
		}
		if s.OpenedAt.Before(start) || !s.OpenedAt.Before(end) {
			continue
		}
		if len(wanted) > 0 && !wanted[r.UBS] {
			continue
		}
		rep.Total++
		rep.Tickets = append(rep.Tickets, r)
		byUBS[r.UBS]++
		defects[r.DefectType]++
		if badClose {
			rep.Closed++
			continue
		}
		spans = append(spans, s)
		if !s.Closed() {
			rep.Open++
			if ev.IsOverdue(s, p.Now, p.OverdueAfter) {
				rep.Overdue++
			}
			continue
		}
		rep.Closed++
		if met, ok := ev.MeetsSLA(s, p.SLATarget); ok {
			if met {
				rep.SLAMet++
			} else {
				rep.SLAMissed++
			}
		}
	}
	if avg, ok := ev.AverageResolution(spans); ok {
		secs := int64(avg / time.Second)
		rep.AvgResolutionSeconds = &secs
		rep.AvgResolution = sla.FormatHoursMinutes(avg)
	}
	if judged := rep.SLAMet + rep.SLAMissed; judged > 0 {
		v := float64(rep.SLAMet) / float64(judged)
		rep.SLAAttainment = &v
	}
	rep.ByUBS = ranked(byUBS, 0)
	rep.TopDefects = ranked(defects, topDefects)
	return rep, nil
}

// ranked orders counts by size, then key. limit <= 0 keeps all.
func ranked(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// chronological orders counts whose keys sort as dates.
func chronological(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}
