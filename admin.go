package quotaledger

import (
	"context"
	"maps"
	"time"
)

// ResetMonthlyQuota moves userID into the current calendar month, zeroing
// usage and sealing the ended period's history. It is idempotent per period
// and reports whether a reset happened.
func (s *Service) ResetMonthlyQuota(ctx context.Context, userID string) (bool, error) {
	var (
		reset  bool
		period string
	)
	_, err := s.mutate(ctx, "reset", userID, func(ctx context.Context, q *UserQuota, now time.Time) (change, error) {
		reset = false
		period = q.Period.Key()
		if !q.Period.Ended(now) {
			return change{noop: true}, nil
		}

		seal, err := s.rollover(ctx, q, now)
		if err != nil {
			return change{}, err
		}
		s.pruneReservations(q, now)
		reset = true
		return change{seal: seal}, nil
	})

	s.meter.OnReset(ResetEvent{UserID: userID, Period: period, Reset: reset && err == nil, Error: err})
	if err != nil {
		return false, err
	}

	if reset {
		s.logger.InfoContext(ctx, "monthly quota reset", "user", userID, "ended_period", period)
	}
	return reset, nil
}

// UpdateUserPlan switches userID to plan. Limits are replaced from the
// catalog, usage is kept.
func (s *Service) UpdateUserPlan(ctx context.Context, userID string, plan PlanType) error {
	p, err := s.catalog.Plan(plan)
	if err != nil {
		return err
	}

	var (
		from      PlanType
		unchanged bool
	)
	_, err = s.mutate(ctx, "update_plan", userID, func(_ context.Context, q *UserQuota, _ time.Time) (change, error) {
		from = q.Plan
		unchanged = q.Plan == p.Type && maps.Equal(q.Limits, p.Limits)
		if unchanged {
			return change{noop: true}, nil
		}
		q.Plan = p.Type
		q.Limits = p.Limits.Clone()
		return change{}, nil
	})
	if err != nil || unchanged {
		return err
	}

	s.meter.OnPlanChange(PlanChangeEvent{UserID: userID, From: from, To: p.Type})
	s.logger.InfoContext(ctx, "plan updated", "user", userID, "from", from, "to", p.Type)
	return nil
}

// InitializeUserQuota creates the quota document for userID on plan if it
// does not exist yet. It reports whether a document was created.
func (s *Service) InitializeUserQuota(ctx context.Context, userID string, plan PlanType) (bool, error) {
	p, err := s.catalog.Plan(plan)
	if err != nil {
		return false, err
	}
	if userID == "" {
		return false, errUserIDRequired
	}

	created, err := s.store.Create(ctx, newUserQuota(userID, p, s.clock.Now()))
	s.cache.Invalidate(userID)
	if err != nil {
		return false, s.storeErr(ctx, "create", userID, err)
	}
	if created {
		s.logger.InfoContext(ctx, "quota initialized", "user", userID, "plan", p.Type)
	}
	return created, nil
}

// SetSuspended suspends or reactivates userID. A suspended user is denied
// every check and consumption until reactivated.
func (s *Service) SetSuspended(ctx context.Context, userID string, suspended bool) error {
	_, err := s.mutate(ctx, "suspend", userID, func(_ context.Context, q *UserQuota, _ time.Time) (change, error) {
		if q.Suspended == suspended {
			return change{noop: true}, nil
		}
		q.Suspended = suspended
		return change{}, nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "suspension updated", "user", userID, "suspended", suspended)
	return nil
}
