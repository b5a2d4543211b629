//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	ql "github.com/ineyio/quotaledger"
	quotaredis "github.com/ineyio/quotaledger/store/redis"
	"github.com/ineyio/quotaledger/store/storetest"
)

var seq atomic.Int64

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *quotaredis.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test:%d:", seq.Add(1))
	s := quotaredis.New(client, quotaredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestStore(t *testing.T) {
	client := newTestClient(t)
	storetest.Run(t, func(t *testing.T) ql.Store {
		return newTestStore(t, client)
	})
}

func TestApplyMovesPlanIndex(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	q := storetest.Quota("alice", ql.PlanFree)
	if _, err := store.Create(ctx, q); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := q.Clone()
	next.Plan = ql.PlanEnterprise
	next.Version = 2
	if err := store.Apply(ctx, 1, ql.Mutation{Quota: next}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	free := ql.PlanFree
	ids, err := store.ListUsers(ctx, ql.UserFilter{Plan: &free})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no free users, got %v", ids)
	}

	ent := ql.PlanEnterprise
	ids, err = store.ListUsers(ctx, ql.UserFilter{Plan: &ent})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("expected [alice], got %v", ids)
	}
}

func TestApplyKeepsSinglePlanMembership(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	q := storetest.Quota("alice", ql.PlanFree)
	if _, err := store.Create(ctx, q); err != nil {
		t.Fatalf("create: %v", err)
	}

	cur := q
	for _, plan := range []ql.PlanType{ql.PlanPro, ql.PlanEnterprise, ql.PlanProPlus, ql.PlanFree} {
		next := cur.Clone()
		next.Plan = plan
		next.Version = cur.Version + 1
		if err := store.Apply(ctx, cur.Version, ql.Mutation{Quota: next}); err != nil {
			t.Fatalf("apply %s: %v", plan, err)
		}
		cur = next

		for _, p := range ql.AllPlans() {
			ids, err := store.ListUsers(ctx, ql.UserFilter{Plan: &p})
			if err != nil {
				t.Fatalf("list %s: %v", p, err)
			}
			want := 0
			if p == plan {
				want = 1
			}
			if len(ids) != want {
				t.Fatalf("after moving to %s: plan %s has %v", plan, p, ids)
			}
		}
	}
}
