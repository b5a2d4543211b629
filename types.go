package quotaledger

import "time"

// UserQuota is the per-user quota document.
type UserQuota struct {
	UserID       string                 `json:"user_id"`
	Plan         PlanType               `json:"plan"`
	Limits       QuotaLimits            `json:"limits"`
	Usage        map[ResourceType]int64 `json:"usage"`
	Period       Period                 `json:"period"`
	LastReset    time.Time              `json:"last_reset"`
	Suspended    bool                   `json:"suspended"`
	Lifetime     LifetimeStats          `json:"lifetime"`
	Reservations map[string]Reservation `json:"reservations,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`

	// Version is bumped by every committed mutation and guards Store.Apply.
	Version int64 `json:"version"`
}

// Used returns the consumed count for r in the stored period.
func (q UserQuota) Used(r ResourceType) int64 { return q.Usage[r] }

// Reserved returns the number of outstanding reservations for r.
func (q UserQuota) Reserved(r ResourceType) int64 {
	var n int64
	for _, res := range q.Reservations {
		if res.Resource == r {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (q UserQuota) Clone() UserQuota {
	out := q
	out.Limits = q.Limits.Clone()
	if q.Usage != nil {
		out.Usage = make(map[ResourceType]int64, len(q.Usage))
		for k, v := range q.Usage {
			out.Usage[k] = v
		}
	}
	if q.Reservations != nil {
		out.Reservations = make(map[string]Reservation, len(q.Reservations))
		for k, v := range q.Reservations {
			out.Reservations[k] = v
		}
	}
	out.Lifetime = q.Lifetime.Clone()
	return out
}

// LifetimeStats are monotonically increasing totals across all periods.
type LifetimeStats struct {
	Total        int64                  `json:"total"`
	ByResource   map[ResourceType]int64 `json:"by_resource"`
	MemberSince  time.Time              `json:"member_since"`
	LastActivity time.Time              `json:"last_activity,omitempty"`
}

// Clone returns a deep copy.
func (l LifetimeStats) Clone() LifetimeStats {
	out := l
	if l.ByResource != nil {
		out.ByResource = make(map[ResourceType]int64, len(l.ByResource))
		for k, v := range l.ByResource {
			out.ByResource[k] = v
		}
	}
	return out
}

// Reservation holds one unit of a resource between Reserve and Commit/Rollback.
type Reservation struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Resource  ResourceType `json:"resource"`
	CreatedAt time.Time    `json:"created_at"`
}

// ConsumeMetadata describes the metered work being recorded.
type ConsumeMetadata struct {
	Reference     string // ticker or report id
	CorrelationID string
	Status        string
	Duration      time.Duration
}

// UsageRecord is one consumption event in a period's history.
type UsageRecord struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Resource      ResourceType  `json:"resource"`
	Reference     string        `json:"reference,omitempty"`
	CorrelationID string        `json:"correlation_id"`
	Status        string        `json:"status"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
	Period        string        `json:"period"`
}

// QuotaInfo is the client-facing view returned by CheckQuota.
type QuotaInfo struct {
	Resource  ResourceType
	Plan      PlanType
	Used      int64
	Reserved  int64
	Limit     Limit
	Remaining Remaining
	Suspended bool
	PeriodEnd time.Time
	CacheHit  bool
}

// ResourceUsage is the per-resource part of UsageStats.
type ResourceUsage struct {
	Used      int64
	Reserved  int64
	Limit     Limit
	Remaining Remaining
}

// UsageStats aggregates the current period and lifetime totals for a user.
type UsageStats struct {
	UserID    string
	Plan      PlanType
	Suspended bool
	Period    Period
	Resources map[ResourceType]ResourceUsage
	Lifetime  LifetimeStats
}
