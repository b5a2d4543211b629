package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	ql "github.com/ineyio/quotaledger"
	"github.com/ineyio/quotaledger/jobs"
)

var errUsage = errors.New("usage")

type commands struct {
	svc      *ql.Service
	store    ql.Store
	settings *Settings
	logger   *slog.Logger
	out      io.Writer
}

func (c *commands) dispatch(ctx context.Context, name string) error {
	switch name {
	case "migrate":
		return c.migrate(ctx)
	case "reset":
		return c.reset(ctx)
	case "stats":
		return c.stats(ctx)
	case "check":
		return c.check(ctx)
	case "plan":
		return c.plan(ctx)
	case "suspend":
		return c.suspend(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (c *commands) requireUser() (string, error) {
	u := c.settings.User()
	if u == "" {
		return "", fmt.Errorf("%w: --%s is required", errUsage, flagUser)
	}
	return u, nil
}

func (c *commands) migrate(ctx context.Context) error {
	path := c.settings.UsersFile()
	if path == "" {
		return fmt.Errorf("%w: --%s is required", errUsage, flagUsersFile)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	ids, err := jobs.ReadUserIDs(f)
	if err != nil {
		return err
	}

	report, err := jobs.NewMigrator(c.svc, c.store, c.logger).Run(ctx, ids, jobs.MigrateOptions{
		Plan:        ql.PlanType(c.settings.Plan()),
		DryRun:      c.settings.DryRun(),
		Concurrency: c.settings.Concurrency(),
	})
	if err != nil {
		return err
	}
	return c.print(struct {
		DryRun      bool              `json:"dry_run"`
		Planned     []string          `json:"planned"`
		Existing    []string          `json:"existing"`
		Initialized []string          `json:"initialized"`
		Failed      map[string]string `json:"failed,omitempty"`
	}{report.DryRun, report.Planned, report.Existing, report.Initialized, errorStrings(report.Failed)})
}

func (c *commands) reset(ctx context.Context) error {
	opts := jobs.ResetOptions{Concurrency: c.settings.Concurrency()}
	if p := c.settings.Plan(); p != "" {
		plan, err := ql.ParsePlanType(p)
		if err != nil {
			return err
		}
		opts.Plan = &plan
	}

	report, err := jobs.NewResetter(c.svc, c.store, c.logger).Run(ctx, opts)
	if err != nil {
		return err
	}
	return c.print(struct {
		Reset   []string          `json:"reset"`
		Skipped []string          `json:"skipped"`
		Failed  map[string]string `json:"failed,omitempty"`
	}{report.Reset, report.Skipped, errorStrings(report.Failed)})
}

func (c *commands) stats(ctx context.Context) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	stats, err := c.svc.GetUsageStats(ctx, user)
	if err != nil {
		return err
	}

	resources := make(map[ql.ResourceType]any, len(stats.Resources))
	for r, u := range stats.Resources {
		resources[r] = map[string]any{
			"used":      u.Used,
			"reserved":  u.Reserved,
			"limit":     u.Limit,
			"remaining": u.Remaining,
		}
	}
	return c.print(map[string]any{
		"user_id":   stats.UserID,
		"plan":      stats.Plan,
		"suspended": stats.Suspended,
		"period":    stats.Period.Key(),
		"resources": resources,
		"lifetime":  stats.Lifetime,
	})
}

func (c *commands) check(ctx context.Context) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	resource, err := ql.ParseResourceType(c.settings.Resource())
	if err != nil {
		return err
	}
	allowed, info, err := c.svc.CheckQuota(ctx, user, resource)
	if err != nil {
		return err
	}
	return c.print(map[string]any{
		"allowed":    allowed,
		"resource":   info.Resource,
		"plan":       info.Plan,
		"used":       info.Used,
		"reserved":   info.Reserved,
		"limit":      info.Limit,
		"remaining":  info.Remaining,
		"suspended":  info.Suspended,
		"period_end": info.PeriodEnd,
	})
}

func (c *commands) plan(ctx context.Context) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	if c.settings.Plan() == "" {
		return fmt.Errorf("%w: --%s is required", errUsage, flagPlan)
	}
	plan, err := ql.ParsePlanType(c.settings.Plan())
	if err != nil {
		return err
	}
	return c.svc.UpdateUserPlan(ctx, user, plan)
}

func (c *commands) suspend(ctx context.Context) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	return c.svc.SetSuspended(ctx, user, !c.settings.Off())
}

func (c *commands) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errorStrings(m map[string]error) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.Error()
	}
	return out
}
