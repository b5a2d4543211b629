package meter

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ql "github.com/ineyio/quotaledger"
)

const namespace = "quotaledger"

// Consume outcomes used as the "outcome" label.
const (
	OutcomeSuccess    = "success"
	OutcomeExceeded   = "exceeded"
	OutcomeSuspended  = "suspended"
	OutcomeContention = "contention"
	OutcomeError      = "error"
)

// PrometheusMeter exports quota events as Prometheus metrics.
type PrometheusMeter struct {
	checks          *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	consumes        *prometheus.CounterVec
	consumeAttempts prometheus.Histogram
	resets          *prometheus.CounterVec
	planChanges     *prometheus.CounterVec
}

var _ ql.Meter = (*PrometheusMeter)(nil)

// NewPrometheusMeter registers the quota metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewPrometheusMeter(reg prometheus.Registerer) *PrometheusMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMeter{
		checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of quota checks",
			},
			[]string{"resource", "allowed"},
		),
		checkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Quota check latency distribution",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"cache"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of quota cache lookups by result",
			},
			[]string{"result"},
		),
		consumes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumes_total",
				Help:      "Total number of quota consumptions by outcome",
			},
			[]string{"resource", "outcome"},
		),
		consumeAttempts: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "consume_attempts",
				Help:      "Store transaction attempts per consumption",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),
		resets: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resets_total",
				Help:      "Total number of monthly reset calls by outcome",
			},
			[]string{"outcome"},
		),
		planChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_changes_total",
				Help:      "Total number of plan changes by target plan",
			},
			[]string{"plan"},
		),
	}
}

func (m *PrometheusMeter) OnCheck(e ql.CheckEvent) {
	if e.Error != nil {
		m.checks.WithLabelValues(string(e.Resource), "error").Inc()
		return
	}
	m.checks.WithLabelValues(string(e.Resource), strconv.FormatBool(e.Allowed)).Inc()

	result := "miss"
	if e.CacheHit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.checkDuration.WithLabelValues(result).Observe(e.Duration.Seconds())
}

func (m *PrometheusMeter) OnConsume(e ql.ConsumeEvent) {
	m.consumes.WithLabelValues(string(e.Resource), ConsumeOutcome(e.Error)).Inc()
	if e.Attempts > 0 {
		m.consumeAttempts.Observe(float64(e.Attempts))
	}
}

func (m *PrometheusMeter) OnReset(e ql.ResetEvent) {
	switch {
	case e.Error != nil:
		m.resets.WithLabelValues(OutcomeError).Inc()
	case e.Reset:
		m.resets.WithLabelValues("reset").Inc()
	default:
		m.resets.WithLabelValues("skipped").Inc()
	}
}

func (m *PrometheusMeter) OnPlanChange(e ql.PlanChangeEvent) {
	m.planChanges.WithLabelValues(string(e.To)).Inc()
}

// ConsumeOutcome classifies a consumption error into an outcome label.
func ConsumeOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ql.ErrQuotaExceeded):
		return OutcomeExceeded
	case errors.Is(err, ql.ErrUserSuspended):
		return OutcomeSuspended
	case errors.Is(err, ql.ErrContention):
		return OutcomeContention
	default:
		return OutcomeError
	}
}
