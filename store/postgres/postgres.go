// Package postgres provides a PostgreSQL-backed Store for quotaledger.
//
// Quota documents are JSONB rows guarded by a version column. Apply runs
// the versioned update, history append and seal in one transaction, which
// makes the store safe for multi-instance deployments. The schema is
// managed by embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	ql "github.com/ineyio/quotaledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL-backed quotaledger.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ ql.Store = (*Store)(nil)

// New creates a new PostgreSQL-backed Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("quotaledger/postgres: migrate: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("quotaledger/postgres: migrate: %w", err)
	}
	return nil
}

// Get returns the user's quota document.
func (s *Store) Get(ctx context.Context, userID string) (ql.UserQuota, error) {
	var (
		version int64
		doc     []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, doc FROM quota_users WHERE user_id = $1`, userID,
	).Scan(&version, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return ql.UserQuota{}, ql.ErrUserNotFound
	}
	if err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/postgres: get: %w", err)
	}

	var q ql.UserQuota
	if err := json.Unmarshal(doc, &q); err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/postgres: decode quota %s: %w", userID, err)
	}
	q.Version = version
	return q, nil
}

// Create inserts q unless a row already exists.
func (s *Store) Create(ctx context.Context, q ql.UserQuota) (bool, error) {
	doc, err := json.Marshal(q)
	if err != nil {
		return false, fmt.Errorf("quotaledger/postgres: encode quota: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO quota_users (user_id, plan, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING`,
		q.UserID, string(q.Plan), q.Version, doc, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("quotaledger/postgres: create: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Apply commits m in one transaction if the stored version matches.
func (s *Store) Apply(ctx context.Context, expectedVersion int64, m ql.Mutation) error {
	if m.Quota.Version != expectedVersion+1 {
		return fmt.Errorf("quotaledger/postgres: apply: version %d does not follow %d", m.Quota.Version, expectedVersion)
	}
	doc, err := json.Marshal(m.Quota)
	if err != nil {
		return fmt.Errorf("quotaledger/postgres: encode quota: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("quotaledger/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Versioned update of the document.
	tag, err := tx.Exec(ctx,
		`UPDATE quota_users SET plan = $1, version = $2, doc = $3, updated_at = $4
		WHERE user_id = $5 AND version = $6`,
		string(m.Quota.Plan), m.Quota.Version, doc, m.Quota.UpdatedAt, m.Quota.UserID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("quotaledger/postgres: update quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM quota_users WHERE user_id = $1)`, m.Quota.UserID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("quotaledger/postgres: check quota: %w", err)
		}
		if !exists {
			return ql.ErrUserNotFound
		}
		return ql.ErrConflict
	}

	// 2. History append and daily bucket.
	if rec := m.Record; rec != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("quotaledger/postgres: encode record: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO quota_usage_events (record_id, user_id, period, record, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.ID, rec.UserID, rec.Period, payload, rec.Timestamp,
		); err != nil {
			return fmt.Errorf("quotaledger/postgres: append record: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO quota_usage_daily (user_id, period, day, total) VALUES ($1, $2, $3, 1)
			ON CONFLICT (user_id, period, day) DO UPDATE SET total = quota_usage_daily.total + 1`,
			rec.UserID, rec.Period, ql.DayKey(rec.Timestamp),
		); err != nil {
			return fmt.Errorf("quotaledger/postgres: bump daily: %w", err)
		}
	}

	// 3. Seal, first writer wins.
	if seal := m.Seal; seal != nil {
		payload, err := json.Marshal(seal.Summary)
		if err != nil {
			return fmt.Errorf("quotaledger/postgres: encode summary: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO quota_usage_summaries (user_id, period, summary, sealed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, period) DO NOTHING`,
			seal.UserID, seal.Period, payload, seal.Summary.SealedAt,
		); err != nil {
			return fmt.Errorf("quotaledger/postgres: seal: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("quotaledger/postgres: commit: %w", err)
	}
	return nil
}

// History returns one period's records, daily counts and seal.
func (s *Store) History(ctx context.Context, userID, period string) (ql.UsageHistory, error) {
	h := ql.UsageHistory{UserID: userID, Period: period, Daily: make(map[string]int64)}

	rows, err := s.pool.Query(ctx,
		`SELECT record FROM quota_usage_events WHERE user_id = $1 AND period = $2 ORDER BY id`,
		userID, period,
	)
	if err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: history: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ql.UsageRecord, error) {
		var (
			payload []byte
			rec     ql.UsageRecord
		)
		if err := row.Scan(&payload); err != nil {
			return rec, err
		}
		return rec, json.Unmarshal(payload, &rec)
	})
	if err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: history records: %w", err)
	}
	if len(records) > 0 {
		h.Records = records
	}

	rows, err = s.pool.Query(ctx,
		`SELECT day, total FROM quota_usage_daily WHERE user_id = $1 AND period = $2`,
		userID, period,
	)
	if err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: history daily: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			day   string
			total int64
		)
		if err := rows.Scan(&day, &total); err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: scan daily: %w", err)
		}
		h.Daily[day] = total
	}
	if err := rows.Err(); err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: history daily: %w", err)
	}

	var payload []byte
	err = s.pool.QueryRow(ctx,
		`SELECT summary FROM quota_usage_summaries WHERE user_id = $1 AND period = $2`,
		userID, period,
	).Scan(&payload)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: history summary: %w", err)
	default:
		var summary ql.HistorySummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/postgres: decode summary: %w", err)
		}
		h.Summary = &summary
	}
	return h, nil
}

// ListUsers returns matching user ids in ascending order.
func (s *Store) ListUsers(ctx context.Context, filter ql.UserFilter) ([]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Plan != nil {
		rows, err = s.pool.Query(ctx, `SELECT user_id FROM quota_users WHERE plan = $1 ORDER BY user_id`, string(*filter.Plan))
	} else {
		rows, err = s.pool.Query(ctx, `SELECT user_id FROM quota_users ORDER BY user_id`)
	}
	if err != nil {
		return nil, fmt.Errorf("quotaledger/postgres: list users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("quotaledger/postgres: list users: %w", err)
	}
	return ids, nil
}
