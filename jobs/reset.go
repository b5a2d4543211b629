package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	ql "github.com/ineyio/quotaledger"
)

// MonthlyResetter resets one user's monthly quota.
type MonthlyResetter interface {
	ResetMonthlyQuota(ctx context.Context, userID string) (bool, error)
}

// ResetOptions configures a reset run.
type ResetOptions struct {
	// Plan restricts the run to users on one plan. Nil means every user.
	Plan *ql.PlanType
	// Concurrency bounds parallel per-user work.
	Concurrency int
}

// ResetReport describes a reset run.
type ResetReport struct {
	// Reset lists users moved into the current period.
	Reset []string
	// Skipped lists users already in the current period.
	Skipped []string
	// Failed maps users to the error that stopped them.
	Failed map[string]error
}

// Resetter runs the monthly reset over every stored user.
type Resetter struct {
	svc    MonthlyResetter
	store  ql.Store
	logger *slog.Logger
}

// NewResetter creates a Resetter. If logger is nil, slog.Default() is used.
func NewResetter(svc MonthlyResetter, store ql.Store, logger *slog.Logger) *Resetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resetter{svc: svc, store: store, logger: logger}
}

// Run resets every matching user. Resets are idempotent per period, so a
// run can be repeated safely; a failure for one user does not stop others.
func (r *Resetter) Run(ctx context.Context, opts ResetOptions) (ResetReport, error) {
	ids, err := r.store.ListUsers(ctx, ql.UserFilter{Plan: opts.Plan})
	if err != nil {
		return ResetReport{}, fmt.Errorf("jobs: reset: list users: %w", err)
	}
	r.logger.InfoContext(ctx, "monthly reset started", "users", len(ids))

	c := newCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(opts.Concurrency))
	for _, id := range ids {
		g.Go(func() error {
			reset, err := r.svc.ResetMonthlyQuota(gctx, id)
			switch {
			case err == nil && reset:
				c.add("reset", id)
			case err == nil:
				c.add("skipped", id)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				r.logger.WarnContext(gctx, "monthly reset failed", "user", id, "error", err)
				c.fail(id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ResetReport{}, fmt.Errorf("jobs: reset: %w", err)
	}

	report := ResetReport{Reset: c.list("reset"), Skipped: c.list("skipped"), Failed: c.failed}
	r.logger.InfoContext(ctx, "monthly reset finished",
		"reset", len(report.Reset),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}
