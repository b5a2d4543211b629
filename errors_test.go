package quotaledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	ql "github.com/ineyio/quotaledger"
)

func TestQuotaExceededError(t *testing.T) {
	var err error = &ql.QuotaExceededError{UserID: "alice", Resource: ql.ResourceStockReport, Used: 10, Limit: 10}
	wrapped := fmt.Errorf("generate report: %w", err)

	assert.ErrorIs(t, wrapped, ql.ErrQuotaExceeded)
	assert.True(t, ql.IsBusiness(wrapped))
	assert.False(t, ql.IsRetryable(wrapped))
	assert.Contains(t, err.Error(), "used=10 limit=10")

	var qe *ql.QuotaExceededError
	assert.True(t, errors.As(wrapped, &qe))
	assert.Equal(t, "alice", qe.UserID)
}

func TestStoreError(t *testing.T) {
	err := &ql.StoreError{Op: "apply", UserID: "alice", Err: errConnReset}

	assert.ErrorIs(t, err, ql.ErrStoreFailure)
	assert.ErrorIs(t, err, errConnReset)
	assert.False(t, ql.IsBusiness(err))
	assert.Contains(t, err.Error(), "op=apply")
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, ql.IsBusiness(ql.ErrUserSuspended))
	assert.True(t, ql.IsRetryable(fmt.Errorf("x: %w", ql.ErrContention)))
	assert.True(t, ql.IsRetryable(ql.ErrConflict))
	assert.False(t, ql.IsRetryable(ql.ErrInvalidResourceType))
}
