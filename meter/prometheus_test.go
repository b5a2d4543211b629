package meter_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ql "github.com/ineyio/quotaledger"
	"github.com/ineyio/quotaledger/meter"
)

// sample returns the counter value, or histogram sample count, of the series
// name{labels}.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !matches(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusMeter_Checks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := meter.NewPrometheusMeter(reg)

	m.OnCheck(ql.CheckEvent{Resource: ql.ResourceStockReport, Allowed: true, Duration: time.Millisecond})
	m.OnCheck(ql.CheckEvent{Resource: ql.ResourceStockReport, Allowed: true, CacheHit: true})
	m.OnCheck(ql.CheckEvent{Resource: ql.ResourceStockReport, Allowed: false, CacheHit: true})
	m.OnCheck(ql.CheckEvent{Resource: "video", Error: ql.ErrInvalidResourceType})

	assert.Equal(t, 2.0, sample(t, reg, "quotaledger_checks_total", map[string]string{"resource": "stock_report", "allowed": "true"}))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_checks_total", map[string]string{"resource": "stock_report", "allowed": "false"}))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_checks_total", map[string]string{"resource": "video", "allowed": "error"}))
	assert.Equal(t, 2.0, sample(t, reg, "quotaledger_cache_lookups_total", map[string]string{"result": "hit"}))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_cache_lookups_total", map[string]string{"result": "miss"}))
	assert.Equal(t, 2.0, sample(t, reg, "quotaledger_check_duration_seconds", map[string]string{"cache": "hit"}))
}

func TestPrometheusMeter_ConsumeOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := meter.NewPrometheusMeter(reg)

	exceeded := &ql.QuotaExceededError{UserID: "u", Resource: ql.ResourceStockReport, Used: 10, Limit: 10}
	events := []ql.ConsumeEvent{
		{Resource: ql.ResourceStockReport, Success: true, Attempts: 1},
		{Resource: ql.ResourceStockReport, Success: true, Attempts: 3},
		{Resource: ql.ResourceStockReport, Attempts: 1, Error: exceeded},
		{Resource: ql.ResourceStockReport, Attempts: 1, Error: fmt.Errorf("wrapped: %w", ql.ErrUserSuspended)},
		{Resource: ql.ResourceStockReport, Attempts: 5, Error: ql.ErrContention},
		{Resource: ql.ResourceStockReport, Attempts: 1, Error: &ql.StoreError{Op: "apply", Err: fmt.Errorf("boom")}},
	}
	for _, e := range events {
		m.OnConsume(e)
	}

	labels := func(outcome string) map[string]string {
		return map[string]string{"resource": "stock_report", "outcome": outcome}
	}
	assert.Equal(t, 2.0, sample(t, reg, "quotaledger_consumes_total", labels(meter.OutcomeSuccess)))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_consumes_total", labels(meter.OutcomeExceeded)))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_consumes_total", labels(meter.OutcomeSuspended)))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_consumes_total", labels(meter.OutcomeContention)))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_consumes_total", labels(meter.OutcomeError)))
	assert.Equal(t, 6.0, sample(t, reg, "quotaledger_consume_attempts", map[string]string{}))
}

func TestPrometheusMeter_ResetsAndPlans(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := meter.NewPrometheusMeter(reg)

	m.OnReset(ql.ResetEvent{UserID: "a", Reset: true})
	m.OnReset(ql.ResetEvent{UserID: "b"})
	m.OnReset(ql.ResetEvent{UserID: "c", Error: ql.ErrContention})
	m.OnPlanChange(ql.PlanChangeEvent{UserID: "a", From: ql.PlanFree, To: ql.PlanPro})

	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_resets_total", map[string]string{"outcome": "reset"}))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_resets_total", map[string]string{"outcome": "skipped"}))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_resets_total", map[string]string{"outcome": "error"}))
	assert.Equal(t, 1.0, sample(t, reg, "quotaledger_plan_changes_total", map[string]string{"plan": "pro"}))

	n, err := testutil.GatherAndCount(reg, "quotaledger_resets_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNewPrometheusMeter_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	meter.NewPrometheusMeter(reg)

	assert.Panics(t, func() { meter.NewPrometheusMeter(reg) })
}
