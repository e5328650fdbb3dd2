package sla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const secondsPerDay = 24 * 3600

// Shift is a working window expressed in seconds after local midnight.
type Shift struct {
	StartSec int
	EndSec   int
}

// Calendar is a weekly work schedule in a single fixed zone.
type Calendar struct {
	Location *time.Location
	Shifts   map[time.Weekday][]Shift
	Holidays map[time.Time]struct{}
}

// DefaultCalendar returns the Monday to Friday schedule 08:00-12:00 and
// 13:00-17:00 with no holidays.
func DefaultCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	day := []Shift{
		{StartSec: 8 * 3600, EndSec: 12 * 3600},
		{StartSec: 13 * 3600, EndSec: 17 * 3600},
	}
	c := &Calendar{
		Location: loc,
		Shifts:   make(map[time.Weekday][]Shift),
		Holidays: make(map[time.Time]struct{}),
	}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		c.Shifts[wd] = append([]Shift(nil), day...)
	}
	return c
}

// Validate checks that every day has sorted, non-overlapping shifts within the day.
func (c *Calendar) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("calendar: missing location")
	}
	for wd, shifts := range c.Shifts {
		prev := -1
		for _, s := range shifts {
			if s.StartSec < 0 || s.EndSec > secondsPerDay || s.StartSec >= s.EndSec {
				return fmt.Errorf("calendar: invalid shift %d-%d on %s", s.StartSec, s.EndSec, wd)
			}
			if s.StartSec < prev {
				return fmt.Errorf("calendar: overlapping shifts on %s", wd)
			}
			prev = s.EndSec
		}
	}
	return nil
}

// AddHoliday closes the civil day containing t.
func (c *Calendar) AddHoliday(t time.Time) {
	if c.Holidays == nil {
		c.Holidays = make(map[time.Time]struct{})
	}
	y, m, d := t.In(c.Location).Date()
	c.Holidays[dayKey(y, m, d)] = struct{}{}
}

// IsHoliday reports whether the civil day containing t is closed.
func (c *Calendar) IsHoliday(t time.Time) bool {
	y, m, d := t.In(c.Location).Date()
	_, ok := c.Holidays[dayKey(y, m, d)]
	return ok
}

func dayKey(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func LoadCalendar(ctx context.Context, db DB, id string) (*Calendar, error) {
	var tz string
	if err := db.QueryRow(ctx, "select tz from calendars where id=$1", id).Scan(&tz); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	cal := &Calendar{
		Location: loc,
		Shifts:   make(map[time.Weekday][]Shift),
		Holidays: make(map[time.Time]struct{}),
	}
	rows, err := db.Query(ctx, "select dow, start_sec, end_sec from business_hours where calendar_id=$1", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dow, start, end int
		if err := rows.Scan(&dow, &start, &end); err == nil {
			wd := time.Weekday(dow)
			cal.Shifts[wd] = append(cal.Shifts[wd], Shift{StartSec: start, EndSec: end})
		}
	}
	for wd := range cal.Shifts {
		shifts := cal.Shifts[wd]
		sort.Slice(shifts, func(i, j int) bool { return shifts[i].StartSec < shifts[j].StartSec })
	}
	hrows, err := db.Query(ctx, "select date from holidays where calendar_id=$1", id)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var d time.Time
		if err := hrows.Scan(&d); err == nil {
			// dates come back as UTC midnight; keep the civil date as stored
			cal.Holidays[dayKey(d.Date())] = struct{}{}
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// BusinessDuration returns the working time between start and end with
// second precision. It is zero when start is not before end.
func (c *Calendar) BusinessDuration(start, end time.Time) time.Duration {
	start = start.Truncate(time.Second).In(c.Location)
	end = end.Truncate(time.Second).In(c.Location)
	if !start.Before(end) {
		return 0
	}
	total := time.Duration(0)
	cur := start
	for cur.Before(end) {
		y, m, d := cur.Date()
		if _, closed := c.Holidays[dayKey(y, m, d)]; !closed {
			for _, s := range c.Shifts[cur.Weekday()] {
				from := maxTime(cur, time.Date(y, m, d, 0, 0, s.StartSec, 0, c.Location))
				to := minTime(end, time.Date(y, m, d, 0, 0, s.EndSec, 0, c.Location))
				if to.After(from) {
					total += to.Sub(from)
				}
			}
		}
		cur = time.Date(y, m, d+1, 0, 0, 0, 0, c.Location)
	}
	return total
}

// IsWorkTime reports whether t falls inside a shift.
func (c *Calendar) IsWorkTime(t time.Time) bool {
	t = t.In(c.Location)
	if c.IsHoliday(t) {
		return false
	}
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	for _, s := range c.Shifts[t.Weekday()] {
		if sec >= s.StartSec && sec < s.EndSec {
			return true
		}
	}
	return false
}

// AddBusinessDuration returns the earliest instant at which d of working time
// has elapsed since start. A calendar without shifts yields the zero time.
func (c *Calendar) AddBusinessDuration(start time.Time, d time.Duration) time.Time {
	start = start.Truncate(time.Second).In(c.Location)
	if d <= 0 {
		return start
	}
	if !c.hasShifts() {
		return time.Time{}
	}
	remaining := d
	cur := start
	for {
		y, m, dd := cur.Date()
		if _, closed := c.Holidays[dayKey(y, m, dd)]; !closed {
			for _, s := range c.Shifts[cur.Weekday()] {
				from := maxTime(cur, time.Date(y, m, dd, 0, 0, s.StartSec, 0, c.Location))
				to := time.Date(y, m, dd, 0, 0, s.EndSec, 0, c.Location)
				if !to.After(from) {
					continue
				}
				avail := to.Sub(from)
				if remaining <= avail {
					return from.Add(remaining)
				}
				remaining -= avail
			}
		}
		cur = time.Date(y, m, dd+1, 0, 0, 0, 0, c.Location)
	}
}

func (c *Calendar) hasShifts() bool {
	for _, shifts := range c.Shifts {
		if len(shifts) > 0 {
			return true
		}
	}
	return false
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
