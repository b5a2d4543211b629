package quotaledger

import (
	"fmt"
	"sort"
)

// PlanType is a subscription tier.
type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanPro        PlanType = "pro"
	PlanProPlus    PlanType = "pro_plus"
	PlanEnterprise PlanType = "enterprise"
)

// planOrder ranks tiers for display and sorting.
var planOrder = map[PlanType]int{
	PlanFree:       0,
	PlanPro:        1,
	PlanProPlus:    2,
	PlanEnterprise: 3,
}

// AllPlans returns every known tier in ascending order.
func AllPlans() []PlanType {
	return []PlanType{PlanFree, PlanPro, PlanProPlus, PlanEnterprise}
}

// Valid reports whether p is a known tier.
func (p PlanType) Valid() bool {
	_, ok := planOrder[p]
	return ok
}

func (p PlanType) String() string { return string(p) }

// ParsePlanType converts s into a PlanType.
func ParsePlanType(s string) (PlanType, error) {
	p := PlanType(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
	return p, nil
}

// Plan is one entry of the plan catalog.
type Plan struct {
	Type       PlanType
	Name       string
	PriceCents int64
	Limits     QuotaLimits
}

// Catalog is the immutable, process-wide table of plans.
type Catalog struct {
	plans map[PlanType]Plan
}

// NewCatalog builds a catalog. Every plan must have a known type, each type
// may appear once, and limits may only name known resources.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("quotaledger: catalog: at least one plan is required")
	}
	c := &Catalog{plans: make(map[PlanType]Plan, len(plans))}
	for i, p := range plans {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("quotaledger: catalog: plan[%d]: %w: %q", i, ErrUnknownPlan, p.Type)
		}
		if _, dup := c.plans[p.Type]; dup {
			return nil, fmt.Errorf("quotaledger: catalog: duplicate plan %q", p.Type)
		}
		for r := range p.Limits {
			if !r.Valid() {
				return nil, fmt.Errorf("quotaledger: catalog: plan %q: %w: %q", p.Type, ErrInvalidResourceType, r)
			}
		}
		if p.Name == "" {
			p.Name = string(p.Type)
		}
		p.Limits = p.Limits.Clone()
		c.plans[p.Type] = p
	}
	return c, nil
}

// DefaultCatalog returns the built-in four-tier catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Plan{Type: PlanFree, Name: "Free", PriceCents: 0, Limits: QuotaLimits{ResourceStockReport: Limited(10)}},
		Plan{Type: PlanPro, Name: "Pro", PriceCents: 2900, Limits: QuotaLimits{ResourceStockReport: Limited(45)}},
		Plan{Type: PlanProPlus, Name: "Pro Plus", PriceCents: 4900, Limits: QuotaLimits{ResourceStockReport: Limited(100)}},
		Plan{Type: PlanEnterprise, Name: "Enterprise", PriceCents: 0, Limits: QuotaLimits{ResourceStockReport: Unlimited()}},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Plan returns the plan for t. The returned limits are a copy.
func (c *Catalog) Plan(t PlanType) (Plan, error) {
	p, ok := c.plans[t]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, t)
	}
	p.Limits = p.Limits.Clone()
	return p, nil
}

// Plans returns all plans ordered by tier.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		p.Limits = p.Limits.Clone()
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return planOrder[out[i].Type] < planOrder[out[j].Type]
	})
	return out
}
