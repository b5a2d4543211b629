package quotaledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusSuccess is the default status of a usage record.
const StatusSuccess = "success"

// ConsumeQuota atomically checks and records one unit of resource for
// userID. On success the returned record is already part of the period's
// history. It fails with *QuotaExceededError, ErrUserSuspended or
// ErrContention without changing any state.
func (s *Service) ConsumeQuota(ctx context.Context, userID string, resource ResourceType, meta ConsumeMetadata) (UsageRecord, error) {
	start := time.Now()

	if !resource.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidResourceType, resource)
		s.meter.OnConsume(ConsumeEvent{UserID: userID, Resource: resource, Duration: time.Since(start), Error: err})
		return UsageRecord{}, err
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}

	var rec UsageRecord
	attempts, err := s.mutate(ctx, "consume", userID, func(ctx context.Context, q *UserQuota, now time.Time) (change, error) {
		seal, err := s.rollover(ctx, q, now)
		if err != nil {
			return change{}, err
		}
		s.pruneReservations(q, now)

		if err := s.admit(q, resource); err != nil {
			return change{}, err
		}

		rec = recordUsage(q, resource, meta, uuid.NewString(), now)
		return change{record: &rec, seal: seal}, nil
	})

	s.meter.OnConsume(ConsumeEvent{
		UserID:   userID,
		Resource: resource,
		Success:  err == nil,
		Attempts: attempts,
		Duration: time.Since(start),
		Error:    err,
	})

	if err != nil {
		s.logRejection(ctx, "consume", userID, resource, err)
		return UsageRecord{}, err
	}

	s.logger.DebugContext(ctx, "quota consumed",
		"user", userID,
		"resource", resource,
		"record", rec.ID,
		"correlation_id", rec.CorrelationID,
		"attempts", attempts,
	)
	return rec, nil
}

// logRejection logs business rejections at info level. Store failures are
// already logged by storeErr.
func (s *Service) logRejection(ctx context.Context, op, userID string, resource ResourceType, err error) {
	var exceeded *QuotaExceededError
	switch {
	case errors.As(err, &exceeded):
		s.logger.InfoContext(ctx, "quota exceeded",
			"op", op,
			"user", userID,
			"resource", resource,
			"used", exceeded.Used,
			"limit", exceeded.Limit,
		)
	case errors.Is(err, ErrUserSuspended):
		s.logger.InfoContext(ctx, "quota rejected, user suspended", "op", op, "user", userID, "resource", resource)
	}
}
