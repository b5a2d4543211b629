package meter

import (
	"log/slog"

	ql "github.com/ineyio/quotaledger"
)

// LogMeter logs quota events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ ql.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnCheck(e ql.CheckEvent) {
	if e.Error != nil {
		m.Logger.Warn("check_error",
			"user", e.UserID,
			"resource", e.Resource,
			"error", e.Error,
		)
		return
	}
	m.Logger.Info("check",
		"user", e.UserID,
		"resource", e.Resource,
		"allowed", e.Allowed,
		"cache_hit", e.CacheHit,
		"used", e.Used,
		"limit", e.Limit.String(),
		"duration_ms", e.Duration.Milliseconds(),
	)
}

func (m *LogMeter) OnConsume(e ql.ConsumeEvent) {
	if e.Success {
		m.Logger.Info("consume",
			"user", e.UserID,
			"resource", e.Resource,
			"attempts", e.Attempts,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("consume_error",
			"user", e.UserID,
			"resource", e.Resource,
			"attempts", e.Attempts,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnReset(e ql.ResetEvent) {
	if e.Error != nil {
		m.Logger.Warn("reset_error", "user", e.UserID, "period", e.Period, "error", e.Error)
		return
	}
	m.Logger.Info("reset", "user", e.UserID, "period", e.Period, "reset", e.Reset)
}

func (m *LogMeter) OnPlanChange(e ql.PlanChangeEvent) {
	m.Logger.Info("plan_change", "user", e.UserID, "from", e.From, "to", e.To)
}
