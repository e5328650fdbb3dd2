package sla

import (
	"time"

	"github.com/rickar/cal/v2"
)

// BrazilNationalHolidays lists the national public holidays observed by the
// municipal health units, including the Easter-based ones.
func BrazilNationalHolidays() []*cal.Holiday {
	fixed := func(name string, m time.Month, d int) *cal.Holiday {
		return &cal.Holiday{Name: name, Type: cal.ObservancePublic, Month: m, Day: d, Func: cal.CalcDayOfMonth}
	}
	easter := func(name string, offset int) *cal.Holiday {
		return &cal.Holiday{Name: name, Type: cal.ObservancePublic, Offset: offset, Func: cal.CalcEasterOffset}
	}
	blackConsciousness := fixed("Dia da Consciência Negra", time.November, 20)
	blackConsciousness.StartYear = 2024
	return []*cal.Holiday{
		fixed("Confraternização Universal", time.January, 1),
		easter("Carnaval", -47),
		easter("Sexta-feira Santa", -2),
		fixed("Tiradentes", time.April, 21),
		fixed("Dia do Trabalho", time.May, 1),
		easter("Corpus Christi", 60),
		fixed("Independência do Brasil", time.September, 7),
		fixed("Nossa Senhora Aparecida", time.October, 12),
		fixed("Finados", time.November, 2),
		fixed("Proclamação da República", time.November, 15),
		blackConsciousness,
		fixed("Natal", time.December, 25),
	}
}

// AddHolidays closes every occurrence of the given holidays between fromYear
// and toYear inclusive.
func (c *Calendar) AddHolidays(holidays []*cal.Holiday, fromYear, toYear int) {
	if c.Holidays == nil {
		c.Holidays = make(map[time.Time]struct{})
	}
	for year := fromYear; year <= toYear; year++ {
		for _, h := range holidays {
			actual, _ := h.Calc(year)
			if actual.IsZero() {
				continue
			}
			c.Holidays[dayKey(actual.Date())] = struct{}{}
		}
	}
}
