package quotaledger

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrInvalidResourceType = errors.New("quotaledger: invalid resource type")
	ErrQuotaExceeded       = errors.New("quotaledger: quota exceeded")
	ErrUserSuspended       = errors.New("quotaledger: user suspended")
	ErrUnknownPlan         = errors.New("quotaledger: unknown plan")
	ErrUserNotFound        = errors.New("quotaledger: user quota not found")
	ErrUnknownReservation  = errors.New("quotaledger: unknown reservation")

	// ErrConflict is returned by Store.Apply when the document version moved.
	ErrConflict = errors.New("quotaledger: version conflict")
	// ErrContention means retries against ErrConflict were exhausted.
	ErrContention = errors.New("quotaledger: store contention, retry later")
	// ErrStoreFailure marks infrastructure failures of the backing store.
	ErrStoreFailure = errors.New("quotaledger: store failure")

	errUserIDRequired = errors.New("quotaledger: user id is required")
)

// QuotaExceededError carries usage figures for display.
type QuotaExceededError struct {
	UserID   string
	Resource ResourceType
	Used     int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quotaledger: quota exceeded: user=%s resource=%s used=%d limit=%d",
		e.UserID, e.Resource, e.Used, e.Limit)
}

// Is makes errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// StoreError wraps a backing-store failure with operation context.
type StoreError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("quotaledger: store: op=%s user=%s: %v", e.Op, e.UserID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStoreFailure) match.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// IsBusiness returns true for expected, user-facing conditions that callers
// translate into a message rather than treat as faults.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrUserSuspended)
}

// IsRetryable returns true if the caller may retry the same call later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrConflict)
}
