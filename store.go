package quotaledger

import "context"

// Store persists quota documents and usage histories. Implementations must
// make Apply atomic: either every part of the Mutation is written or none is.
type Store interface {
	// Get returns the quota document for userID, or ErrUserNotFound.
	Get(ctx context.Context, userID string) (UserQuota, error)

	// Create inserts q if no document exists for q.UserID. It reports whether
	// a document was created; an existing document is left untouched.
	Create(ctx context.Context, q UserQuota) (bool, error)

	// Apply commits m if the stored version still equals expectedVersion.
	// m.Quota.Version must be expectedVersion+1. Returns ErrConflict when the
	// version moved and ErrUserNotFound when the document does not exist.
	Apply(ctx context.Context, expectedVersion int64, m Mutation) error

	// History returns the usage history of one period ("YYYY-MM"). A period
	// with no recorded usage yields an empty, open history.
	History(ctx context.Context, userID, period string) (UsageHistory, error)

	// ListUsers returns the ids of users matching filter, sorted ascending.
	ListUsers(ctx context.Context, filter UserFilter) ([]string, error)
}

// Mutation is the unit of work committed by Store.Apply.
type Mutation struct {
	// Quota is the new document state.
	Quota UserQuota

	// Record, if set, is appended to the history of Record.Period.
	Record *UsageRecord

	// Seal, if set, writes the summary that closes a period's history.
	Seal *HistorySeal
}

// UserFilter narrows ListUsers. A nil Plan matches every plan.
type UserFilter struct {
	Plan *PlanType
}

// Matches reports whether q passes the filter.
func (f UserFilter) Matches(q UserQuota) bool {
	return f.Plan == nil || q.Plan == *f.Plan
}
