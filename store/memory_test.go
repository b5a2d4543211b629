package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ql "github.com/ineyio/quotaledger"
	"github.com/ineyio/quotaledger/store"
	"github.com/ineyio/quotaledger/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ql.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, storetest.Quota("alice", ql.PlanFree))
	require.NoError(t, err)

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	got.Usage[ql.ResourceStockReport] = 1000
	got.Limits[ql.ResourceStockReport] = ql.Unlimited()

	again, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Used(ql.ResourceStockReport))
	assert.False(t, again.Limits.Get(ql.ResourceStockReport).IsUnlimited())
}

func TestMemoryStore_RejectsVersionSkip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	q := storetest.Quota("alice", ql.PlanFree)
	_, err := s.Create(ctx, q)
	require.NoError(t, err)

	q.Version = 5
	err = s.Apply(ctx, 1, ql.Mutation{Quota: q})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ql.ErrConflict)
}
