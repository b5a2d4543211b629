package quotaledger

import (
	"sort"
	"time"
)

// UsageHistory is the per-user, per-period consumption log.
type UsageHistory struct {
	UserID  string           `json:"user_id"`
	Period  string           `json:"period"`
	Records []UsageRecord    `json:"records"`
	Daily   map[string]int64 `json:"daily"`
	Summary *HistorySummary  `json:"summary,omitempty"`
}

// Closed reports whether the period has been sealed.
func (h UsageHistory) Closed() bool { return h.Summary != nil }

// HistorySummary is written once when a period is sealed.
type HistorySummary struct {
	Total        int64                  `json:"total"`
	ByResource   map[ResourceType]int64 `json:"by_resource"`
	PeakDay      string                 `json:"peak_day,omitempty"`
	PeakCount    int64                  `json:"peak_count"`
	DailyAverage float64                `json:"daily_average"`
	SealedAt     time.Time              `json:"sealed_at"`
}

// HistorySeal closes the history of one period.
type HistorySeal struct {
	UserID  string
	Period  string
	Summary HistorySummary
}

// Summarize computes the summary of h over period p. The daily average is
// taken over every calendar day of p, not only active days.
func (h UsageHistory) Summarize(p Period, sealedAt time.Time) HistorySummary {
	s := HistorySummary{
		ByResource: make(map[ResourceType]int64),
		SealedAt:   sealedAt.UTC(),
	}
	for _, rec := range h.Records {
		s.Total++
		s.ByResource[rec.Resource]++
	}

	days := make([]string, 0, len(h.Daily))
	for d := range h.Daily {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		if n := h.Daily[d]; n > s.PeakCount {
			s.PeakDay, s.PeakCount = d, n
		}
	}

	if n := p.Days(); n > 0 {
		s.DailyAverage = float64(s.Total) / float64(n)
	}
	return s
}

// AddRecord appends rec and bumps its daily bucket. Stores that keep the
// history as a single document use it to apply Mutation.Record.
func (h *UsageHistory) AddRecord(rec UsageRecord) {
	h.Records = append(h.Records, rec)
	if h.Daily == nil {
		h.Daily = make(map[string]int64)
	}
	h.Daily[dayKey(rec.Timestamp)]++
}

// DayKey returns the daily-bucket key ("YYYY-MM-DD") for t.
func DayKey(t time.Time) string { return dayKey(t) }
