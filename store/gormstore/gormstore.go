// Package gormstore provides a GORM-backed Store for quotaledger.
//
// Each quota document is a JSON column guarded by an integer version;
// Apply runs the versioned update, the history append and the seal in one
// database transaction. Any GORM dialect works; Open wires SQLite and
// PostgreSQL.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ql "github.com/ineyio/quotaledger"
)

// Store is a GORM-backed quotaledger.Store.
type Store struct {
	db *gorm.DB
}

var _ ql.Store = (*Store)(nil)

// New creates a Store on db. Call Migrate before first use.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the quota tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("quotaledger/gormstore: migrate: %w", err)
	}
	return nil
}

// Get returns the user's quota document.
func (s *Store) Get(ctx context.Context, userID string) (ql.UserQuota, error) {
	var row QuotaRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ql.UserQuota{}, ql.ErrUserNotFound
	}
	if err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/gormstore: get: %w", err)
	}
	return decodeQuota(row)
}

// Create inserts q unless a row already exists.
func (s *Store) Create(ctx context.Context, q ql.UserQuota) (bool, error) {
	row, err := encodeQuota(q)
	if err != nil {
		return false, err
	}
	row.CreatedAt = q.CreatedAt
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("quotaledger/gormstore: create: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Apply commits m in one transaction if the stored version matches.
func (s *Store) Apply(ctx context.Context, expectedVersion int64, m ql.Mutation) error {
	if m.Quota.Version != expectedVersion+1 {
		return fmt.Errorf("quotaledger/gormstore: apply: version %d does not follow %d", m.Quota.Version, expectedVersion)
	}
	row, err := encodeQuota(m.Quota)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&QuotaRow{}).
			Where("user_id = ? AND version = ?", row.UserID, expectedVersion).
			Updates(map[string]any{
				"plan":       row.Plan,
				"version":    row.Version,
				"doc":        row.Doc,
				"updated_at": row.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("quotaledger/gormstore: apply: update: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&QuotaRow{}).Where("user_id = ?", row.UserID).Count(&n).Error; err != nil {
				return fmt.Errorf("quotaledger/gormstore: apply: count: %w", err)
			}
			if n == 0 {
				return ql.ErrUserNotFound
			}
			return ql.ErrConflict
		}

		if m.Record != nil {
			if err := appendRecord(tx, *m.Record); err != nil {
				return err
			}
		}
		if m.Seal != nil {
			if err := writeSeal(tx, *m.Seal); err != nil {
				return err
			}
		}
		return nil
	})
}

func appendRecord(tx *gorm.DB, rec ql.UsageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("quotaledger/gormstore: encode record: %w", err)
	}
	event := UsageEventRow{
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		Period:    rec.Period,
		Record:    datatypes.JSON(payload),
		CreatedAt: rec.Timestamp,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("quotaledger/gormstore: append record: %w", err)
	}

	daily := UsageDailyRow{UserID: rec.UserID, Period: rec.Period, Day: ql.DayKey(rec.Timestamp), Total: 1}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "period"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{"total": gorm.Expr("quota_usage_daily.total + ?", 1)}),
	}).Create(&daily).Error; err != nil {
		return fmt.Errorf("quotaledger/gormstore: bump daily: %w", err)
	}
	return nil
}

func writeSeal(tx *gorm.DB, seal ql.HistorySeal) error {
	payload, err := json.Marshal(seal.Summary)
	if err != nil {
		return fmt.Errorf("quotaledger/gormstore: encode summary: %w", err)
	}
	row := UsageSummaryRow{
		UserID:   seal.UserID,
		Period:   seal.Period,
		Summary:  datatypes.JSON(payload),
		SealedAt: seal.Summary.SealedAt,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("quotaledger/gormstore: seal: %w", err)
	}
	return nil
}

// History returns one period's records, daily counts and seal.
func (s *Store) History(ctx context.Context, userID, period string) (ql.UsageHistory, error) {
	db := s.db.WithContext(ctx)
	h := ql.UsageHistory{UserID: userID, Period: period, Daily: make(map[string]int64)}

	var events []UsageEventRow
	if err := db.Where("user_id = ? AND period = ?", userID, period).Order("id ASC").Find(&events).Error; err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/gormstore: history: %w", err)
	}
	for _, e := range events {
		var rec ql.UsageRecord
		if err := json.Unmarshal(e.Record, &rec); err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/gormstore: decode record %s: %w", e.RecordID, err)
		}
		h.Records = append(h.Records, rec)
	}

	var days []UsageDailyRow
	if err := db.Where("user_id = ? AND period = ?", userID, period).Find(&days).Error; err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/gormstore: history daily: %w", err)
	}
	for _, d := range days {
		h.Daily[d.Day] = d.Total
	}

	var sum UsageSummaryRow
	err := db.Where("user_id = ? AND period = ?", userID, period).Take(&sum).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/gormstore: history summary: %w", err)
	default:
		var summary ql.HistorySummary
		if err := json.Unmarshal(sum.Summary, &summary); err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/gormstore: decode summary: %w", err)
		}
		h.Summary = &summary
	}
	return h, nil
}

// ListUsers returns matching user ids in ascending order.
func (s *Store) ListUsers(ctx context.Context, filter ql.UserFilter) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&QuotaRow{})
	if filter.Plan != nil {
		q = q.Where("plan = ?", string(*filter.Plan))
	}
	var ids []string
	if err := q.Order("user_id ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("quotaledger/gormstore: list users: %w", err)
	}
	return ids, nil
}

func encodeQuota(q ql.UserQuota) (QuotaRow, error) {
	doc, err := json.Marshal(q)
	if err != nil {
		return QuotaRow{}, fmt.Errorf("quotaledger/gormstore: encode quota: %w", err)
	}
	return QuotaRow{
		UserID:    q.UserID,
		Plan:      string(q.Plan),
		Version:   q.Version,
		Doc:       datatypes.JSON(doc),
		UpdatedAt: q.UpdatedAt,
	}, nil
}

func decodeQuota(row QuotaRow) (ql.UserQuota, error) {
	var q ql.UserQuota
	if err := json.Unmarshal(row.Doc, &q); err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/gormstore: decode quota %s: %w", row.UserID, err)
	}
	q.Version = row.Version
	return q, nil
}
