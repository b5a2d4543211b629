package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// QuotaRow holds one user's quota document. Plan and Version are kept in
// their own columns for plan filtering and the optimistic version check.
type QuotaRow struct {
	UserID    string         `gorm:"primaryKey;type:varchar(255)"`
	Plan      string         `gorm:"type:varchar(32);not null;index"`
	Version   int64          `gorm:"not null"`
	Doc       datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (QuotaRow) TableName() string { return "quota_users" }

// UsageEventRow is one appended usage record.
type UsageEventRow struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	RecordID  string         `gorm:"type:varchar(64);not null;uniqueIndex"`
	UserID    string         `gorm:"type:varchar(255);not null;index:idx_quota_usage_events_user_period,priority:1"`
	Period    string         `gorm:"type:varchar(7);not null;index:idx_quota_usage_events_user_period,priority:2"`
	Record    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (UsageEventRow) TableName() string { return "quota_usage_events" }

// UsageDailyRow counts records per user and calendar day.
type UsageDailyRow struct {
	UserID string `gorm:"primaryKey;type:varchar(255)"`
	Period string `gorm:"primaryKey;type:varchar(7)"`
	Day    string `gorm:"primaryKey;type:varchar(10)"`
	Total  int64  `gorm:"not null;default:0"`
}

func (UsageDailyRow) TableName() string { return "quota_usage_daily" }

// UsageSummaryRow is the seal of a closed period.
type UsageSummaryRow struct {
	UserID   string         `gorm:"primaryKey;type:varchar(255)"`
	Period   string         `gorm:"primaryKey;type:varchar(7)"`
	Summary  datatypes.JSON `gorm:"not null"`
	SealedAt time.Time      `gorm:"not null"`
}

func (UsageSummaryRow) TableName() string { return "quota_usage_summaries" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&QuotaRow{}, &UsageEventRow{}, &UsageDailyRow{}, &UsageSummaryRow{}}
}
