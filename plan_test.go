package quotaledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ql "github.com/ineyio/quotaledger"
)

func TestDefaultCatalog(t *testing.T) {
	c := ql.DefaultCatalog()

	tests := []struct {
		plan  ql.PlanType
		limit ql.Limit
	}{
		{ql.PlanFree, ql.Limited(10)},
		{ql.PlanPro, ql.Limited(45)},
		{ql.PlanProPlus, ql.Limited(100)},
		{ql.PlanEnterprise, ql.Unlimited()},
	}
	for _, tt := range tests {
		p, err := c.Plan(tt.plan)
		require.NoError(t, err, tt.plan)
		assert.Equal(t, tt.limit, p.Limits.Get(ql.ResourceStockReport), tt.plan)
	}

	plans := c.Plans()
	require.Len(t, plans, 4)
	assert.Equal(t, ql.PlanFree, plans[0].Type)
	assert.Equal(t, ql.PlanEnterprise, plans[3].Type)
}

func TestCatalog_PlanReturnsCopy(t *testing.T) {
	c := ql.DefaultCatalog()
	p, err := c.Plan(ql.PlanFree)
	require.NoError(t, err)
	p.Limits[ql.ResourceStockReport] = ql.Unlimited()

	again, err := c.Plan(ql.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, ql.Limited(10), again.Limits.Get(ql.ResourceStockReport))
}

func TestNewCatalog_Rejects(t *testing.T) {
	_, err := ql.NewCatalog()
	assert.Error(t, err)

	_, err = ql.NewCatalog(ql.Plan{Type: "gold"})
	assert.ErrorIs(t, err, ql.ErrUnknownPlan)

	_, err = ql.NewCatalog(ql.Plan{Type: ql.PlanFree}, ql.Plan{Type: ql.PlanFree})
	assert.ErrorContains(t, err, "duplicate")

	_, err = ql.NewCatalog(ql.Plan{Type: ql.PlanFree, Limits: ql.QuotaLimits{"crypto_report": ql.Limited(1)}})
	assert.ErrorIs(t, err, ql.ErrInvalidResourceType)
}

func TestParsePlanType(t *testing.T) {
	p, err := ql.ParsePlanType("pro_plus")
	require.NoError(t, err)
	assert.Equal(t, ql.PlanProPlus, p)

	_, err = ql.ParsePlanType("Pro")
	assert.ErrorIs(t, err, ql.ErrUnknownPlan)
}

func TestParseResourceType(t *testing.T) {
	r, err := ql.ParseResourceType("stock_report")
	require.NoError(t, err)
	assert.Equal(t, ql.ResourceStockReport, r)

	_, err = ql.ParseResourceType("")
	assert.ErrorIs(t, err, ql.ErrInvalidResourceType)
	assert.Equal(t, []ql.ResourceType{ql.ResourceStockReport}, ql.AllResources())
}

func TestAllPlans(t *testing.T) {
	plans := ql.AllPlans()
	assert.Equal(t, []ql.PlanType{ql.PlanFree, ql.PlanPro, ql.PlanProPlus, ql.PlanEnterprise}, plans)
	for _, p := range plans {
		assert.True(t, p.Valid(), p)
	}
}
