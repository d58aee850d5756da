package model

import (
	"fmt"
	"strings"
	"time"
)

// Period is a calendar month. It is stored and printed as the first day of
// the month (YYYY-MM-01).
type Period struct {
	Year  int
	Month time.Month
}

const periodLayout = "2006-01-02"

// NewPeriod returns the period for the given year and month.
func NewPeriod(year int, month time.Month) Period {
	return PeriodFromIndex(year*12 + int(month) - 1)
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodFromIndex is the inverse of Period.Index.
func PeriodFromIndex(idx int) Period {
	y := idx / 12
	m := idx % 12
	if m < 0 {
		m += 12
		y--
	}
	return Period{Year: y, Month: time.Month(m + 1)}
}

// ParsePeriod accepts YYYY-MM-DD or YYYY-MM. The day is ignored.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(periodLayout, s); err == nil {
		return PeriodOf(t), nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return PeriodOf(t), nil
	}
	return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM-DD", s)
}

// MustParsePeriod is ParsePeriod for literals known to be valid.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Index counts months since year 0: year*12 + (month-1).
func (p Period) Index() int {
	return p.Year*12 + int(p.Month) - 1
}

// AddMonths shifts the period by n calendar months (n may be negative).
func (p Period) AddMonths(n int) Period {
	return PeriodFromIndex(p.Index() + n)
}

// MonthsSince returns the calendar-month distance from earlier to p.
func (p Period) MonthsSince(earlier Period) int {
	return p.Index() - earlier.Index()
}

func (p Period) Before(o Period) bool { return p.Index() < o.Index() }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-01", p.Year, int(p.Month))
}

// Compact renders the period as YYYYMMDD, used in file names.
func (p Period) Compact() string {
	return strings.ReplaceAll(p.String(), "-", "")
}
