package gormstore

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialects accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Open connects to a database with the named dialect.
func Open(dialect, dsn string) (*gorm.DB, error) {
	var d gorm.Dialector
	switch dialect {
	case DialectSQLite:
		d = sqlite.Open(dsn)
	case DialectPostgres:
		d = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("quotaledger/gormstore: unknown dialect %q", dialect)
	}

	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("quotaledger/gormstore: open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection serializes
		// transactions instead of failing them with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("quotaledger/gormstore: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
