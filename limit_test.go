package quotaledger_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	ql "github.com/ineyio/quotaledger"
)

func TestLimit_Allows(t *testing.T) {
	l := ql.Limited(3)
	assert.True(t, l.Allows(2))
	assert.False(t, l.Allows(3))
	assert.False(t, l.Allows(4))

	assert.True(t, ql.Unlimited().Allows(1<<40))
	assert.False(t, ql.Limited(0).Allows(0))
}

func TestLimit_RemainingClampsAtZero(t *testing.T) {
	n, ok := ql.Limited(10).Remaining(12).Value()
	require.True(t, ok)
	assert.Zero(t, n)
	assert.True(t, ql.Limited(10).Remaining(12).Exhausted())

	r := ql.Unlimited().Remaining(500)
	assert.True(t, r.IsUnlimited())
	assert.False(t, r.Exhausted())
	assert.Equal(t, "unlimited", r.String())
}

func TestLimit_NegativeClampedToZero(t *testing.T) {
	n, ok := ql.Limited(-5).Value()
	require.True(t, ok)
	assert.Zero(t, n)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in        string
		want      ql.Limit
		wantError bool
	}{
		{in: "45", want: ql.Limited(45)},
		{in: "0", want: ql.Limited(0)},
		{in: "unlimited", want: ql.Unlimited()},
		{in: "-1", want: ql.Unlimited()},
		{in: "-2", wantError: true},
		{in: "lots", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ql.ParseLimit(tt.in)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimit_JSONAcceptsLegacySentinel(t *testing.T) {
	var limits map[string]ql.Limit
	require.NoError(t, json.Unmarshal([]byte(`{"a": 10, "b": "unlimited", "c": -1}`), &limits))

	assert.Equal(t, ql.Limited(10), limits["a"])
	assert.True(t, limits["b"].IsUnlimited())
	assert.True(t, limits["c"].IsUnlimited())

	out, err := json.Marshal(limits["c"])
	require.NoError(t, err)
	assert.JSONEq(t, `"unlimited"`, string(out))
}

func TestLimit_YAML(t *testing.T) {
	var limits map[string]ql.Limit
	require.NoError(t, yaml.Unmarshal([]byte("a: 7\nb: unlimited\n"), &limits))
	assert.Equal(t, ql.Limited(7), limits["a"])
	assert.True(t, limits["b"].IsUnlimited())

	var bad map[string]ql.Limit
	assert.Error(t, yaml.Unmarshal([]byte("a: [1, 2]\n"), &bad))
}

func TestQuotaLimits_MissingResourceIsZero(t *testing.T) {
	var limits ql.QuotaLimits
	assert.Equal(t, ql.Limited(0), limits.Get(ql.ResourceStockReport))
}
