package quotaledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ql "github.com/ineyio/quotaledger"
)

func TestReserve_CountsAgainstLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.consumeN(t, "alice", 9)

	res, err := f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.UserID)
	assert.NotEmpty(t, res.ID)

	allowed, info, err := f.svc.CheckQuota(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 9, info.Used)
	assert.EqualValues(t, 1, info.Reserved)

	_, err = f.svc.ConsumeQuota(ctx, "alice", ql.ResourceStockReport, ql.ConsumeMetadata{})
	var exceeded *ql.QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.EqualValues(t, 10, exceeded.Used, "reserved units count as used")

	_, err = f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	assert.ErrorIs(t, err, ql.ErrQuotaExceeded)
}

func TestReserve_CommitRecordsUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)

	rec, err := f.svc.Commit(ctx, res, ql.ConsumeMetadata{Reference: "NVDA", Status: "partial"})
	require.NoError(t, err)
	assert.Equal(t, "partial", rec.Status)
	assert.Equal(t, "NVDA", rec.Reference)

	q, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, q.Used(ql.ResourceStockReport))
	assert.Zero(t, q.Reserved(ql.ResourceStockReport))

	h, err := f.svc.GetUsageHistory(ctx, "alice", "2025-03")
	require.NoError(t, err)
	require.Len(t, h.Records, 1)
	assert.Equal(t, rec.ID, h.Records[0].ID)

	_, err = f.svc.Commit(ctx, res, ql.ConsumeMetadata{})
	assert.ErrorIs(t, err, ql.ErrUnknownReservation, "a reservation settles once")
}

func TestReserve_RollbackReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.consumeN(t, "alice", 9)

	res, err := f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)
	require.NoError(t, f.svc.Rollback(ctx, res))

	allowed, info, err := f.svc.CheckQuota(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 9, info.Used)
	assert.Zero(t, info.Reserved)

	assert.ErrorIs(t, f.svc.Rollback(ctx, res), ql.ErrUnknownReservation)
}

func TestReserve_LapsesAfterTTL(t *testing.T) {
	f := newFixture(t, ql.WithReservationTTL(10*time.Minute))
	ctx := context.Background()
	f.consumeN(t, "alice", 9)

	res, err := f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)

	allowed, info, err := f.svc.CheckQuota(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, info.Reserved)

	_, err = f.svc.Commit(ctx, res, ql.ConsumeMetadata{})
	assert.ErrorIs(t, err, ql.ErrUnknownReservation)

	q, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 9, q.Used(ql.ResourceStockReport))
}

func TestReserve_CommitAfterSuspension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetSuspended(ctx, "alice", true))

	_, err = f.svc.Commit(ctx, res, ql.ConsumeMetadata{})
	require.NoError(t, err, "work admitted before suspension is still recorded")

	_, err = f.svc.Reserve(ctx, "alice", ql.ResourceStockReport)
	assert.ErrorIs(t, err, ql.ErrUserSuspended)
}

func TestReserve_InvalidResource(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reserve(context.Background(), "alice", "crypto_report")
	assert.ErrorIs(t, err, ql.ErrInvalidResourceType)
}
