package quotaledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ql "github.com/ineyio/quotaledger"
	"github.com/ineyio/quotaledger/store"
)

var march14 = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc   *ql.Service
	store *store.MemoryStore
	clock *fakeClock
	meter *recordingMeter
}

func newFixture(t *testing.T, opts ...ql.Option) fixture {
	t.Helper()
	f := fixture{
		store: store.NewMemoryStore(),
		clock: newFakeClock(march14),
		meter: &recordingMeter{},
	}
	base := []ql.Option{ql.WithClock(f.clock), ql.WithMeter(f.meter), ql.WithRetry(20, time.Microsecond)}
	svc, err := ql.NewService(f.store, append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f fixture) consumeN(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.svc.ConsumeQuota(context.Background(), userID, ql.ResourceStockReport, ql.ConsumeMetadata{Reference: "AAPL"})
		require.NoError(t, err)
	}
}

type recordingMeter struct {
	mu       sync.Mutex
	checks   []ql.CheckEvent
	consumes []ql.ConsumeEvent
	resets   []ql.ResetEvent
	plans    []ql.PlanChangeEvent
}

func (m *recordingMeter) OnCheck(e ql.CheckEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, e)
}

func (m *recordingMeter) OnConsume(e ql.ConsumeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumes = append(m.consumes, e)
}

func (m *recordingMeter) OnReset(e ql.ResetEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, e)
}

func (m *recordingMeter) OnPlanChange(e ql.PlanChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, e)
}

// conflictStore rejects every Apply with ErrConflict.
type conflictStore struct {
	*store.MemoryStore
	applies atomic.Int64
}

func (s *conflictStore) Apply(context.Context, int64, ql.Mutation) error {
	s.applies.Add(1)
	return ql.ErrConflict
}

// brokenStore fails every call.
type brokenStore struct {
	err error
}

func (s brokenStore) Get(context.Context, string) (ql.UserQuota, error) { return ql.UserQuota{}, s.err }
func (s brokenStore) Create(context.Context, ql.UserQuota) (bool, error) {
	return false, s.err
}
func (s brokenStore) Apply(context.Context, int64, ql.Mutation) error { return s.err }
func (s brokenStore) History(context.Context, string, string) (ql.UsageHistory, error) {
	return ql.UsageHistory{}, s.err
}
func (s brokenStore) ListUsers(context.Context, ql.UserFilter) ([]string, error) { return nil, s.err }

var errConnReset = errors.New("connection reset by peer")
