package quotaledger

import (
	"fmt"
	"time"
)

const (
	periodKeyLayout = "2006-01"
	dayKeyLayout    = "2006-01-02"
)

// Period is a calendar-month billing window, [Start, End) in UTC.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PeriodFor returns the calendar month containing t.
func PeriodFor(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// ParsePeriodKey parses a "YYYY-MM" key.
func ParsePeriodKey(key string) (Period, error) {
	t, err := time.Parse(periodKeyLayout, key)
	if err != nil {
		return Period{}, fmt.Errorf("quotaledger: invalid period %q", key)
	}
	return PeriodFor(t), nil
}

// Key returns the "YYYY-MM" identifier of the period.
func (p Period) Key() string { return p.Start.Format(periodKeyLayout) }

// Next returns the following calendar month.
func (p Period) Next() Period { return PeriodFor(p.End) }

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Ended reports whether the period is over at t.
func (p Period) Ended(t time.Time) bool { return !t.Before(p.End) }

// Days returns the number of calendar days in the period.
func (p Period) Days() int { return int(p.End.Sub(p.Start).Hours() / 24) }

func dayKey(t time.Time) string { return t.UTC().Format(dayKeyLayout) }
