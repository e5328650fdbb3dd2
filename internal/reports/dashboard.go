package reports

import (
	"sort"
	"time"

	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/sla"
)

// AgingRow describes one open ticket on the technicians' panel.
type AgingRow struct {
	Protocol   int64   `json:"protocolo"`
	UBS        string  `json:"ubs"`
	Sector     string  `json:"setor"`
	DefectType string  `json:"tipo_defeito"`
	OpenedAt   string  `json:"hora_abertura"`
	Status     *string `json:"status_chamado,omitempty"`
	AgeSeconds int64   `json:"age_seconds"`
	AgeText    string  `json:"age"`
	Overdue    bool    `json:"overdue"`
	DueAt      string  `json:"due_at,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Aging lists open tickets oldest first. Tickets whose age cannot be computed
// are kept at the end with Error set.
func Aging(records []chamados.Record, now time.Time, threshold time.Duration, ev sla.Evaluator) []AgingRow {
	loc := ev.Cal.Location
	rows := []AgingRow{}
	for _, r := range records {
		if !r.Open() {
			continue
		}
		row := AgingRow{
			Protocol:   r.Protocol,
			UBS:        r.UBS,
			Sector:     r.Sector,
			DefectType: r.DefectType,
			OpenedAt:   r.OpenedAt,
			Status:     r.Status,
		}
		s, err := r.Span(loc)
		if err == nil {
			var age time.Duration
			age, err = ev.AgeOf(s, now)
			if err == nil {
				row.AgeSeconds = int64(age / time.Second)
				row.AgeText = sla.FormatAge(age)
				row.Overdue = ev.IsOverdue(s, now, threshold)
				if due := ev.Cal.AddBusinessDuration(s.OpenedAt, threshold); !due.IsZero() {
					row.DueAt = sla.FormatTimestamp(due, loc)
				}
			}
		}
		if err != nil {
			row.Error = "unable to compute"
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if (rows[i].Error == "") != (rows[j].Error == "") {
			return rows[i].Error == ""
		}
		return rows[i].AgeSeconds > rows[j].AgeSeconds
	})
	return rows
}

// Dashboard is the administrative overview.
type Dashboard struct {
	Now     string     `json:"now"`
	Total   int        `json:"total"`
	Open    int        `json:"open"`
	Closed  int        `json:"closed"`
	Overdue []AgingRow `json:"overdue"`
	Skipped int        `json:"skipped"`
	Monthly []Count    `json:"monthly"`
	Weekly  []Count    `json:"weekly"`
}

// BuildDashboard counts every record and groups those with a readable opening
// time by month and ISO week of opening.
func BuildDashboard(records []chamados.Record, now time.Time, threshold time.Duration, ev sla.Evaluator) Dashboard {
	loc := ev.Cal.Location
	d := Dashboard{Now: sla.FormatTimestamp(now, loc), Total: len(records), Overdue: []AgingRow{}}
	monthly := map[string]int{}
	weekly := map[string]int{}
	for _, r := range records {
		if r.Open() {
			d.Open++
		} else {
			d.Closed++
		}
		opened, err := sla.ParseTimestamp(r.OpenedAt, loc)
		if err != nil {
			d.Skipped++
			continue
		}
		monthly[opened.Format("2006-01")]++
		weekly[weekKey(opened)]++
	}
	for _, row := range Aging(records, now, threshold, ev) {
		if row.Overdue {
			d.Overdue = append(d.Overdue, row)
		}
	}
	d.Monthly = chronological(monthly)
	d.Weekly = chronological(weekly)
	return d
}
