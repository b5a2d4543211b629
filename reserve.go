package quotaledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserve holds one unit of resource for userID while the metered work runs.
// The unit counts against the limit but is not usage until Commit. An
// unsettled reservation lapses after the reservation TTL.
func (s *Service) Reserve(ctx context.Context, userID string, resource ResourceType) (Reservation, error) {
	if !resource.Valid() {
		return Reservation{}, fmt.Errorf("%w: %q", ErrInvalidResourceType, resource)
	}

	var res Reservation
	_, err := s.mutate(ctx, "reserve", userID, func(ctx context.Context, q *UserQuota, now time.Time) (change, error) {
		seal, err := s.rollover(ctx, q, now)
		if err != nil {
			return change{}, err
		}
		s.pruneReservations(q, now)

		if err := s.admit(q, resource); err != nil {
			return change{}, err
		}

		res = Reservation{
			ID:        uuid.NewString(),
			UserID:    q.UserID,
			Resource:  resource,
			CreatedAt: now,
		}
		if q.Reservations == nil {
			q.Reservations = make(map[string]Reservation)
		}
		q.Reservations[res.ID] = res
		return change{seal: seal}, nil
	})
	if err != nil {
		s.logRejection(ctx, "reserve", userID, resource, err)
		return Reservation{}, err
	}

	s.logger.DebugContext(ctx, "quota reserved", "user", userID, "resource", resource, "reservation", res.ID)
	return res, nil
}

// Commit turns a reservation into recorded usage. It fails with
// ErrUnknownReservation if the reservation was already settled or lapsed.
func (s *Service) Commit(ctx context.Context, res Reservation, meta ConsumeMetadata) (UsageRecord, error) {
	start := time.Now()
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}

	var rec UsageRecord
	attempts, err := s.mutate(ctx, "commit", res.UserID, func(ctx context.Context, q *UserQuota, now time.Time) (change, error) {
		s.pruneReservations(q, now)
		held, ok := q.Reservations[res.ID]
		if !ok {
			return change{}, fmt.Errorf("%w: %s", ErrUnknownReservation, res.ID)
		}

		seal, err := s.rollover(ctx, q, now)
		if err != nil {
			return change{}, err
		}

		delete(q.Reservations, res.ID)
		rec = recordUsage(q, held.Resource, meta, uuid.NewString(), now)
		return change{record: &rec, seal: seal}, nil
	})

	s.meter.OnConsume(ConsumeEvent{
		UserID:   res.UserID,
		Resource: res.Resource,
		Success:  err == nil,
		Attempts: attempts,
		Duration: time.Since(start),
		Error:    err,
	})
	if err != nil {
		return UsageRecord{}, err
	}
	return rec, nil
}

// Rollback releases a reservation without recording usage.
func (s *Service) Rollback(ctx context.Context, res Reservation) error {
	_, err := s.mutate(ctx, "rollback", res.UserID, func(_ context.Context, q *UserQuota, now time.Time) (change, error) {
		s.pruneReservations(q, now)
		if _, ok := q.Reservations[res.ID]; !ok {
			return change{}, fmt.Errorf("%w: %s", ErrUnknownReservation, res.ID)
		}
		delete(q.Reservations, res.ID)
		return change{}, nil
	})
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "reservation released", "user", res.UserID, "reservation", res.ID)
	return nil
}
