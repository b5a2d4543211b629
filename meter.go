package quotaledger

import "time"

// Meter observes quota events for monitoring/logging.
type Meter interface {
	// OnCheck is called after every CheckQuota.
	OnCheck(event CheckEvent)

	// OnConsume is called after every ConsumeQuota or Commit.
	OnConsume(event ConsumeEvent)

	// OnReset is called after every ResetMonthlyQuota.
	OnReset(event ResetEvent)

	// OnPlanChange is called after a successful UpdateUserPlan.
	OnPlanChange(event PlanChangeEvent)
}

// CheckEvent describes a quota check.
type CheckEvent struct {
	UserID   string
	Resource ResourceType
	Allowed  bool
	CacheHit bool
	Used     int64
	Limit    Limit
	Duration time.Duration
	Error    error
}

// ConsumeEvent describes the outcome of a consumption.
type ConsumeEvent struct {
	UserID   string
	Resource ResourceType
	Success  bool
	Attempts int
	Duration time.Duration
	Error    error
}

// ResetEvent describes a monthly reset.
type ResetEvent struct {
	UserID string
	Period string
	Reset  bool
	Error  error
}

// PlanChangeEvent describes a plan update.
type PlanChangeEvent struct {
	UserID string
	From   PlanType
	To     PlanType
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnCheck(CheckEvent)           {}
func (m *noopMeter) OnConsume(ConsumeEvent)       {}
func (m *noopMeter) OnReset(ResetEvent)           {}
func (m *noopMeter) OnPlanChange(PlanChangeEvent) {}
