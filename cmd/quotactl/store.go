package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	ql "github.com/ineyio/quotaledger"
	"github.com/ineyio/quotaledger/store"
	"github.com/ineyio/quotaledger/store/gormstore"
	quotapg "github.com/ineyio/quotaledger/store/postgres"
	quotaredis "github.com/ineyio/quotaledger/store/redis"
)

// openStore connects the configured backend and prepares its schema. The
// returned close function releases connections.
func openStore(ctx context.Context, s *Settings) (ql.Store, func() error, error) {
	noop := func() error { return nil }

	switch s.Backend() {
	case backendMemory:
		return store.NewMemoryStore(), noop, nil

	case backendSQLite, backendGormPostgres:
		dialect, dsn := gormstore.DialectSQLite, s.DSN()
		if s.Backend() == backendGormPostgres {
			dialect = gormstore.DialectPostgres
		}
		if dsn == "" {
			if dialect != gormstore.DialectSQLite {
				return nil, nil, fmt.Errorf("--%s is required for the %s backend", flagDSN, s.Backend())
			}
			dsn = "quotaledger.db"
		}
		db, err := gormstore.Open(dialect, dsn)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		st := gormstore.New(db)
		if err := st.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return st, sqlDB.Close, nil

	case backendPostgres:
		if s.DSN() == "" {
			return nil, nil, fmt.Errorf("--%s is required for the %s backend", flagDSN, s.Backend())
		}
		pool, err := pgxpool.New(ctx, s.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres not available: %w", err)
		}
		st := quotapg.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, func() error { pool.Close(); return nil }, nil

	case backendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: s.RedisAddr()})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis not available at %s: %w", s.RedisAddr(), err)
		}
		return quotaredis.New(client, quotaredis.WithKeyPrefix(s.RedisPrefix())), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unsupported store backend %q", s.Backend())
}
