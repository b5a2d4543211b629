// Package storetest is a conformance suite for quotaledger.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ql "github.com/ineyio/quotaledger"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ql.Store

var base = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

// Quota returns a fully populated document for userID at version 1.
func Quota(userID string, plan ql.PlanType) ql.UserQuota {
	return ql.UserQuota{
		UserID:    userID,
		Plan:      plan,
		Limits:    ql.QuotaLimits{ql.ResourceStockReport: ql.Limited(10)},
		Usage:     map[ql.ResourceType]int64{ql.ResourceStockReport: 2},
		Period:    ql.PeriodFor(base),
		LastReset: base.Add(-time.Hour),
		Lifetime: ql.LifetimeStats{
			Total:        7,
			ByResource:   map[ql.ResourceType]int64{ql.ResourceStockReport: 7},
			MemberSince:  base.AddDate(0, -2, 0),
			LastActivity: base,
		},
		Reservations: map[string]ql.Reservation{
			"r1": {ID: "r1", UserID: userID, Resource: ql.ResourceStockReport, CreatedAt: base},
		},
		CreatedAt: base.AddDate(0, -2, 0),
		UpdatedAt: base,
		Version:   1,
	}
}

func record(userID, id string, at time.Time) ql.UsageRecord {
	return ql.UsageRecord{
		ID:            id,
		UserID:        userID,
		Resource:      ql.ResourceStockReport,
		Reference:     "AAPL",
		CorrelationID: "corr-" + id,
		Status:        ql.StatusSuccess,
		Duration:      1500 * time.Millisecond,
		Timestamp:     at,
		Period:        ql.PeriodFor(at).Key(),
	}
}

// Run exercises every Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nobody")
		assert.ErrorIs(t, err, ql.ErrUserNotFound)
	})

	t.Run("CreateRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanPro)

		created, err := s.Create(ctx, q)
		require.NoError(t, err)
		assert.True(t, created)

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, q, got)
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Create(ctx, Quota("alice", ql.PlanPro))
		require.NoError(t, err)

		other := Quota("alice", ql.PlanFree)
		created, err := s.Create(ctx, other)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ql.PlanPro, got.Plan)
	})

	t.Run("UnlimitedLimitSurvives", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("ent", ql.PlanEnterprise)
		q.Limits = ql.QuotaLimits{ql.ResourceStockReport: ql.Unlimited()}

		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		got, err := s.Get(ctx, "ent")
		require.NoError(t, err)
		assert.True(t, got.Limits.Get(ql.ResourceStockReport).IsUnlimited())
	})

	t.Run("ApplyWritesDocumentAndRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanFree)
		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		next := q.Clone()
		next.Usage[ql.ResourceStockReport] = 3
		next.Version = 2
		rec := record("alice", "rec-1", base)
		require.NoError(t, s.Apply(ctx, 1, ql.Mutation{Quota: next, Record: &rec}))

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, int64(3), got.Used(ql.ResourceStockReport))

		h, err := s.History(ctx, "alice", rec.Period)
		require.NoError(t, err)
		require.Len(t, h.Records, 1)
		assert.Equal(t, rec, h.Records[0])
		assert.Equal(t, int64(1), h.Daily[ql.DayKey(base)])
		assert.False(t, h.Closed())
	})

	t.Run("ApplyConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanFree)
		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		next := q.Clone()
		next.Usage[ql.ResourceStockReport] = 9
		next.Version = 6
		rec := record("alice", "rec-x", base)
		err = s.Apply(ctx, 5, ql.Mutation{Quota: next, Record: &rec})
		assert.ErrorIs(t, err, ql.ErrConflict)

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, q, got, "conflicting apply must not change the document")

		h, err := s.History(ctx, "alice", rec.Period)
		require.NoError(t, err)
		assert.Empty(t, h.Records, "conflicting apply must not append history")
	})

	t.Run("ApplyMissing", func(t *testing.T) {
		s := newStore(t)
		next := Quota("ghost", ql.PlanFree)
		next.Version = 2
		err := s.Apply(context.Background(), 1, ql.Mutation{Quota: next})
		assert.ErrorIs(t, err, ql.ErrUserNotFound)
	})

	t.Run("HistoryDailyBuckets", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanFree)
		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		times := []time.Time{base, base.Add(time.Hour), base.AddDate(0, 0, 1)}
		for i, at := range times {
			next := q.Clone()
			next.Version = q.Version + 1
			rec := record("alice", "rec-"+string(rune('a'+i)), at)
			require.NoError(t, s.Apply(ctx, q.Version, ql.Mutation{Quota: next, Record: &rec}))
			q = next
		}

		h, err := s.History(ctx, "alice", ql.PeriodFor(base).Key())
		require.NoError(t, err)
		assert.Len(t, h.Records, 3)
		assert.Equal(t, int64(2), h.Daily[ql.DayKey(base)])
		assert.Equal(t, int64(1), h.Daily[ql.DayKey(base.AddDate(0, 0, 1))])
		assert.Equal(t, "rec-a", h.Records[0].ID, "records keep append order")
	})

	t.Run("SealIsWrittenOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanFree)
		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		period := ql.PeriodFor(base).Key()
		first := ql.HistorySeal{UserID: "alice", Period: period, Summary: ql.HistorySummary{
			Total:        4,
			ByResource:   map[ql.ResourceType]int64{ql.ResourceStockReport: 4},
			PeakDay:      ql.DayKey(base),
			PeakCount:    3,
			DailyAverage: 4.0 / 31.0,
			SealedAt:     base,
		}}
		next := q.Clone()
		next.Version = 2
		require.NoError(t, s.Apply(ctx, 1, ql.Mutation{Quota: next, Seal: &first}))

		second := first
		second.Summary.Total = 99
		again := next.Clone()
		again.Version = 3
		require.NoError(t, s.Apply(ctx, 2, ql.Mutation{Quota: again, Seal: &second}))

		h, err := s.History(ctx, "alice", period)
		require.NoError(t, err)
		require.True(t, h.Closed())
		assert.Equal(t, int64(4), h.Summary.Total)
		assert.Equal(t, ql.DayKey(base), h.Summary.PeakDay)
		assert.InDelta(t, 4.0/31.0, h.Summary.DailyAverage, 1e-9)
	})

	t.Run("HistoryEmpty", func(t *testing.T) {
		s := newStore(t)
		h, err := s.History(context.Background(), "nobody", "2025-01")
		require.NoError(t, err)
		assert.Empty(t, h.Records)
		assert.False(t, h.Closed())
	})

	t.Run("ListUsers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, u := range []struct {
			id   string
			plan ql.PlanType
		}{{"carol", ql.PlanPro}, {"alice", ql.PlanFree}, {"bob", ql.PlanPro}} {
			_, err := s.Create(ctx, Quota(u.id, u.plan))
			require.NoError(t, err)
		}

		all, err := s.ListUsers(ctx, ql.UserFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol"}, all)

		pro := ql.PlanPro
		got, err := s.ListUsers(ctx, ql.UserFilter{Plan: &pro})
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "carol"}, got)
	})

	t.Run("ListUsersFollowsPlanChange", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanFree)
		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		next := q.Clone()
		next.Plan = ql.PlanPro
		next.Version = 2
		require.NoError(t, s.Apply(ctx, 1, ql.Mutation{Quota: next}))

		free := ql.PlanFree
		got, err := s.ListUsers(ctx, ql.UserFilter{Plan: &free})
		require.NoError(t, err)
		assert.Empty(t, got)

		pro := ql.PlanPro
		got, err = s.ListUsers(ctx, ql.UserFilter{Plan: &pro})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, got)
	})

	t.Run("ConcurrentApplyOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := Quota("alice", ql.PlanFree)
		_, err := s.Create(ctx, q)
		require.NoError(t, err)

		const n = 8
		var (
			wg        sync.WaitGroup
			wins      atomic.Int64
			conflicts atomic.Int64
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := q.Clone()
				next.Usage[ql.ResourceStockReport] = q.Used(ql.ResourceStockReport) + 1
				next.Version = 2
				rec := record("alice", "race-"+string(rune('a'+i)), base)
				err := s.Apply(ctx, 1, ql.Mutation{Quota: next, Record: &rec})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ql.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected apply error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins.Load())
		assert.Equal(t, int64(n-1), conflicts.Load())

		h, err := s.History(ctx, "alice", ql.PeriodFor(base).Key())
		require.NoError(t, err)
		assert.Len(t, h.Records, 1)
	})
}
