package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	ql "github.com/ineyio/quotaledger"
)

// Initializer creates quota documents.
type Initializer interface {
	InitializeUserQuota(ctx context.Context, userID string, plan ql.PlanType) (bool, error)
}

// MigrateOptions configures a migration run.
type MigrateOptions struct {
	// Plan assigned to migrated users. Empty means free.
	Plan ql.PlanType
	// DryRun only reads: it reports which users would be initialized.
	DryRun bool
	// Concurrency bounds parallel per-user work.
	Concurrency int
}

// MigrationReport describes a migration run.
type MigrationReport struct {
	DryRun bool
	// Planned lists users without a quota document.
	Planned []string
	// Existing lists users that already had a document.
	Existing []string
	// Initialized lists users whose document was created by this run.
	Initialized []string
	// Failed maps users to the error that stopped them.
	Failed map[string]error
}

// Migrator initializes quota documents for existing users.
type Migrator struct {
	init   Initializer
	store  ql.Store
	logger *slog.Logger
}

// NewMigrator creates a Migrator. If logger is nil, slog.Default() is used.
func NewMigrator(init Initializer, store ql.Store, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{init: init, store: store, logger: logger}
}

// Run migrates userIDs. Each user is handled independently: a failure is
// recorded in the report and the run continues. A dry run performs only
// store reads.
func (m *Migrator) Run(ctx context.Context, userIDs []string, opts MigrateOptions) (MigrationReport, error) {
	plan := opts.Plan
	if plan == "" {
		plan = ql.PlanFree
	}
	if !plan.Valid() {
		return MigrationReport{}, fmt.Errorf("jobs: migrate: %w: %q", ql.ErrUnknownPlan, plan)
	}

	ids := uniqueSorted(userIDs)
	m.logger.InfoContext(ctx, "migration started", "users", len(ids), "plan", plan, "dry_run", opts.DryRun)

	// 1. Find users without a document.
	c := newCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(opts.Concurrency))
	for _, id := range ids {
		g.Go(func() error {
			_, err := m.store.Get(gctx, id)
			switch {
			case err == nil:
				c.add("existing", id)
			case errors.Is(err, ql.ErrUserNotFound):
				c.add("planned", id)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				m.logger.WarnContext(gctx, "migration lookup failed", "user", id, "error", err)
				c.fail(id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MigrationReport{}, fmt.Errorf("jobs: migrate: %w", err)
	}

	report := MigrationReport{
		DryRun:   opts.DryRun,
		Planned:  c.list("planned"),
		Existing: c.list("existing"),
	}
	if opts.DryRun {
		report.Failed = c.failed
		m.logger.InfoContext(ctx, "migration dry run", "planned", len(report.Planned), "existing", len(report.Existing))
		return report, nil
	}

	// 2. Create the missing documents.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(limit(opts.Concurrency))
	for _, id := range report.Planned {
		g.Go(func() error {
			created, err := m.init.InitializeUserQuota(gctx, id, plan)
			switch {
			case err == nil && created:
				c.add("initialized", id)
			case err == nil:
				// Created concurrently by a lazy check.
				c.add("existing", id)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				m.logger.WarnContext(gctx, "migration init failed", "user", id, "error", err)
				c.fail(id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MigrationReport{}, fmt.Errorf("jobs: migrate: %w", err)
	}

	report.Existing = c.list("existing")
	report.Initialized = c.list("initialized")
	report.Failed = c.failed
	m.logger.InfoContext(ctx, "migration finished",
		"initialized", len(report.Initialized),
		"existing", len(report.Existing),
		"failed", len(report.Failed),
	)
	return report, nil
}
