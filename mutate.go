package quotaledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// change is what a mutation step wants committed alongside the document.
type change struct {
	record *UsageRecord
	seal   *HistorySeal
	// noop means the document is already in the desired state.
	noop bool
}

// mutateFunc edits q in place. It runs once per attempt on a fresh copy of
// the stored document.
type mutateFunc func(ctx context.Context, q *UserQuota, now time.Time) (change, error)

// mutate is the read-modify-write loop behind every write operation. The
// document is read from the store, never from cache, and committed with
// Store.Apply guarded by the version that was read. Version conflicts are
// retried with exponential backoff; exhaustion yields ErrContention. The
// cache entry is invalidated before mutate returns, whatever the outcome.
func (s *Service) mutate(ctx context.Context, op, userID string, fn mutateFunc) (int, error) {
	defer s.cache.Invalidate(userID)

	attempts := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++

		cur, err := s.getOrCreate(ctx, userID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		next := cur.Clone()
		ch, err := fn(ctx, &next, now)
		if err != nil {
			return err
		}
		if ch.noop {
			return nil
		}

		next.Version = cur.Version + 1
		next.UpdatedAt = now
		err = s.store.Apply(ctx, cur.Version, Mutation{Quota: next, Record: ch.record, Seal: ch.seal})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrConflict):
			s.logger.DebugContext(ctx, "quota version conflict", "op", op, "user", userID, "attempt", attempts)
			return retry.RetryableError(err)
		default:
			return s.storeErr(ctx, op, userID, err)
		}
	})

	if errors.Is(err, ErrConflict) {
		s.logger.WarnContext(ctx, "quota contention, retries exhausted", "op", op, "user", userID, "attempts", attempts)
		return attempts, fmt.Errorf("%w: %s: user=%s attempts=%d", ErrContention, op, userID, attempts)
	}
	return attempts, err
}

func (s *Service) backoff() retry.Backoff {
	b := retry.NewExponential(s.retryBaseDelay)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(uint64(s.retryAttempts-1), b)
}

// rollover moves q into the calendar month containing now if its period has
// ended. The returned seal closes the ended period's history; it is nil when
// there is nothing to roll or the history is already sealed.
func (s *Service) rollover(ctx context.Context, q *UserQuota, now time.Time) (*HistorySeal, error) {
	if !q.Period.Ended(now) {
		return nil, nil
	}

	ended := q.Period
	h, err := s.store.History(ctx, q.UserID, ended.Key())
	if err != nil {
		return nil, s.storeErr(ctx, "history", q.UserID, err)
	}

	q.Usage = make(map[ResourceType]int64)
	q.Period = PeriodFor(now)
	q.LastReset = now

	if h.Closed() {
		return nil, nil
	}
	return &HistorySeal{
		UserID:  q.UserID,
		Period:  ended.Key(),
		Summary: h.Summarize(ended, now),
	}, nil
}

// pruneReservations drops reservations older than the reservation TTL.
func (s *Service) pruneReservations(q *UserQuota, now time.Time) {
	for id, r := range q.Reservations {
		if now.Sub(r.CreatedAt) >= s.reservationTTL {
			delete(q.Reservations, id)
			s.logger.Debug("reservation expired", "user", q.UserID, "reservation", id, "resource", r.Resource)
		}
	}
}

// admit checks that one more unit of resource fits for q.
func (s *Service) admit(q *UserQuota, resource ResourceType) error {
	if q.Suspended {
		return fmt.Errorf("%w: user=%s", ErrUserSuspended, q.UserID)
	}
	limit := q.Limits.Get(resource)
	used, reserved := q.Used(resource), q.Reserved(resource)
	if limit.Allows(used + reserved) {
		return nil
	}
	n, _ := limit.Value()
	return &QuotaExceededError{UserID: q.UserID, Resource: resource, Used: used + reserved, Limit: n}
}

// recordUsage counts one unit against q and builds its history record.
func recordUsage(q *UserQuota, resource ResourceType, meta ConsumeMetadata, id string, now time.Time) UsageRecord {
	if q.Usage == nil {
		q.Usage = make(map[ResourceType]int64)
	}
	q.Usage[resource]++

	if q.Lifetime.ByResource == nil {
		q.Lifetime.ByResource = make(map[ResourceType]int64)
	}
	q.Lifetime.Total++
	q.Lifetime.ByResource[resource]++
	q.Lifetime.LastActivity = now

	status := meta.Status
	if status == "" {
		status = StatusSuccess
	}
	return UsageRecord{
		ID:            id,
		UserID:        q.UserID,
		Resource:      resource,
		Reference:     meta.Reference,
		CorrelationID: meta.CorrelationID,
		Status:        status,
		Duration:      meta.Duration,
		Timestamp:     now,
		Period:        q.Period.Key(),
	}
}
