package meter

import ql "github.com/ineyio/quotaledger"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ ql.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnCheck(ql.CheckEvent)           {}
func (m *NoopMeter) OnConsume(ql.ConsumeEvent)       {}
func (m *NoopMeter) OnReset(ql.ResetEvent)           {}
func (m *NoopMeter) OnPlanChange(ql.PlanChangeEvent) {}

// Multi fans events out to several meters in order.
type Multi []ql.Meter

var _ ql.Meter = Multi(nil)

func (m Multi) OnCheck(e ql.CheckEvent) {
	for _, mm := range m {
		mm.OnCheck(e)
	}
}

func (m Multi) OnConsume(e ql.ConsumeEvent) {
	for _, mm := range m {
		mm.OnConsume(e)
	}
}

func (m Multi) OnReset(e ql.ResetEvent) {
	for _, mm := range m {
		mm.OnReset(e)
	}
}

func (m Multi) OnPlanChange(e ql.PlanChangeEvent) {
	for _, mm := range m {
		mm.OnPlanChange(e)
	}
}
