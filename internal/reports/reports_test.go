package reports

import (
	"errors"
	"testing"
	"time"

	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/sla"
)

var fortaleza = time.FixedZone("America/Fortaleza", -3*3600)

func strp(s string) *string { return &s }

func evaluator() sla.Evaluator { return sla.Evaluator{Cal: sla.DefaultCalendar(fortaleza)} }

// July 2024 starts on a Monday.
func fixtures() []chamados.Record {
	return []chamados.Record{
		{Protocol: 1, UBS: "UBS Centro", DefectType: "Impressora", OpenedAt: "01/07/2024 09:00:00", ClosedAt: strp("01/07/2024 11:00:00")},
		{Protocol: 2, UBS: "UBS Norte", DefectType: "Rede", OpenedAt: "02/07/2024 08:00:00", ClosedAt: strp("08/07/2024 08:00:00")},
		{Protocol: 3, UBS: "UBS Centro", DefectType: "Impressora", OpenedAt: "03/07/2024 08:00:00"},
		{Protocol: 4, UBS: "UBS Centro", DefectType: "Rede", OpenedAt: "lixo"},
		{Protocol: 5, UBS: "UBS Sul", DefectType: "Monitor", OpenedAt: "15/08/2024 10:00:00", ClosedAt: strp("16/08/2024 10:00:00")},
	}
}

var now = time.Date(2024, 7, 8, 9, 0, 0, 0, fortaleza)

func july() Params {
	return Params{
		From:         time.Date(2024, 7, 1, 0, 0, 0, 0, fortaleza),
		To:           time.Date(2024, 7, 31, 0, 0, 0, 0, fortaleza),
		Now:          now,
		OverdueAfter: 24 * time.Hour,
		SLATarget:    24 * time.Hour,
	}
}

func TestBuild(t *testing.T) {
	rep, err := Build(fixtures(), july(), evaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rep.Total != 3 || rep.Open != 1 || rep.Closed != 2 || rep.Overdue != 1 || rep.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	// 2h and 32h
	if rep.AvgResolutionSeconds == nil || *rep.AvgResolutionSeconds != 17*3600 || rep.AvgResolution != "17h 0m" {
		t.Fatalf("unexpected average %v %q", rep.AvgResolutionSeconds, rep.AvgResolution)
	}
	if rep.SLAMet != 1 || rep.SLAMissed != 1 || rep.SLAAttainment == nil || *rep.SLAAttainment != 0.5 {
		t.Fatalf("unexpected sla figures %+v", rep)
	}
	if len(rep.ByUBS) != 2 || rep.ByUBS[0] != (Count{Key: "UBS Centro", Count: 2}) {
		t.Fatalf("unexpected by ubs %+v", rep.ByUBS)
	}
	if rep.TopDefects[0] != (Count{Key: "Impressora", Count: 2}) {
		t.Fatalf("unexpected defects %+v", rep.TopDefects)
	}
	if rep.From != "2024-07-01" || rep.To != "2024-07-31" {
		t.Fatalf("unexpected period %s..%s", rep.From, rep.To)
	}
}

func TestBuildFilters(t *testing.T) {
	p := july()
	p.UBS = []string{"UBS Norte"}
	rep, err := Build(fixtures(), p, evaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rep.Total != 1 || rep.Tickets[0].Protocol != 2 {
		t.Fatalf("unexpected tickets %+v", rep.Tickets)
	}

	// one day, both ends inclusive
	p = july()
	p.From = time.Date(2024, 7, 3, 0, 0, 0, 0, fortaleza)
	p.To = p.From
	if rep, _ := Build(fixtures(), p, evaluator()); rep.Total != 1 || rep.Tickets[0].Protocol != 3 {
		t.Fatalf("unexpected single day %+v", rep.Tickets)
	}
}

func TestBuildNoClosedTickets(t *testing.T) {
	recs := []chamados.Record{{Protocol: 3, UBS: "UBS Centro", OpenedAt: "03/07/2024 08:00:00"}}
	rep, err := Build(recs, july(), evaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rep.AvgResolutionSeconds != nil || rep.AvgResolution != "" || rep.SLAAttainment != nil {
		t.Fatalf("average must be absent: %+v", rep)
	}
}

func TestBuildUnreadableClosingTime(t *testing.T) {
	recs := append(fixtures(), chamados.Record{
		Protocol: 6, UBS: "UBS Sul", DefectType: "Rede", OpenedAt: "04/07/2024 08:00:00", ClosedAt: strp("ontem"),
	})
	rep, err := Build(recs, july(), evaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rep.Total != 4 || rep.Closed != 3 || rep.Open != 1 || rep.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	// still the 2h and 32h of the readable tickets
	if rep.AvgResolutionSeconds == nil || *rep.AvgResolutionSeconds != 17*3600 {
		t.Fatalf("unexpected average %v", rep.AvgResolutionSeconds)
	}
	if rep.SLAMet != 1 || rep.SLAMissed != 1 {
		t.Fatalf("unreadable closing time judged against the sla: %+v", rep)
	}
	if len(rep.ByUBS) != 3 || rep.TopDefects[1] != (Count{Key: "Rede", Count: 2}) {
		t.Fatalf("ticket missing from breakdowns %+v %+v", rep.ByUBS, rep.TopDefects)
	}

	d := BuildDashboard(recs, now, 24*time.Hour, evaluator())
	if d.Skipped != 1 || d.Monthly[0] != (Count{Key: "2024-07", Count: 4}) {
		t.Fatalf("unexpected dashboard %+v", d)
	}
}

func TestBuildInvalidPeriod(t *testing.T) {
	p := july()
	p.From, p.To = p.To, p.From
	if _, err := Build(fixtures(), p, evaluator()); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestAging(t *testing.T) {
	rows := Aging(fixtures(), now, 24*time.Hour, evaluator())
	if len(rows) != 2 {
		t.Fatalf("expected the two open tickets, got %+v", rows)
	}
	first := rows[0]
	// Wed, Thu, Fri and one hour on Monday
	if first.Protocol != 3 || first.AgeSeconds != 25*3600 || first.AgeText != "1d 1h" || !first.Overdue {
		t.Fatalf("unexpected row %+v", first)
	}
	if first.DueAt != "05/07/2024 17:00:00" {
		t.Fatalf("unexpected due time %q", first.DueAt)
	}
	if rows[1].Protocol != 4 || rows[1].Error == "" || rows[1].Overdue {
		t.Fatalf("unreadable ticket must be flagged: %+v", rows[1])
	}
}

func TestBuildDashboard(t *testing.T) {
	d := BuildDashboard(fixtures(), now, 24*time.Hour, evaluator())
	if d.Total != 5 || d.Open != 2 || d.Closed != 3 || d.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", d)
	}
	if len(d.Overdue) != 1 || d.Overdue[0].Protocol != 3 {
		t.Fatalf("unexpected overdue %+v", d.Overdue)
	}
	wantMonthly := []Count{{"2024-07", 3}, {"2024-08", 1}}
	wantWeekly := []Count{{"2024-W27", 3}, {"2024-W33", 1}}
	for i, w := range wantMonthly {
		if d.Monthly[i] != w {
			t.Fatalf("monthly[%d]=%+v want %+v", i, d.Monthly[i], w)
		}
	}
	for i, w := range wantWeekly {
		if d.Weekly[i] != w {
			t.Fatalf("weekly[%d]=%+v want %+v", i, d.Weekly[i], w)
		}
	}
	if d.Now != "08/07/2024 09:00:00" {
		t.Fatalf("unexpected now %q", d.Now)
	}
}
