// Package redis provides a Redis-backed Store for quotaledger.
//
// Each quota document lives in a hash next to its version. Apply is a Lua
// script that compares the version and writes the document, the history
// list, the daily counters, the period seal and the plan index in one
// atomic step. This makes it safe for multi-instance deployments sharing
// one Redis server. Every key a script touches is declared in KEYS, but the
// users and plan index sets are shared by all users, so the store does not
// run on Redis Cluster.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	ql "github.com/ineyio/quotaledger"
)

// Store is a Redis-backed quotaledger.Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ ql.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "quotaledger:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed Store.
// The client must be a connected *goredis.Client (single node or
// Sentinel failover).
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "quotaledger:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) userKey(userID string) string { return s.keyPrefix + "user:" + userID }
func (s *Store) usersKey() string             { return s.keyPrefix + "users" }
func (s *Store) planKey(p ql.PlanType) string { return s.keyPrefix + "plan:" + string(p) }
func (s *Store) noneKey() string              { return s.keyPrefix + "_none" }

func (s *Store) eventsKey(userID, period string) string {
	return s.keyPrefix + "events:" + userID + ":" + period
}

func (s *Store) dailyKey(userID, period string) string {
	return s.keyPrefix + "daily:" + userID + ":" + period
}

func (s *Store) summaryKey(userID, period string) string {
	return s.keyPrefix + "summary:" + userID + ":" + period
}

// createScript inserts a document if absent.
// KEYS[1] = user hash key
// KEYS[2] = users set
// KEYS[3] = plan set
// ARGV[1] = user id
// ARGV[2] = version
// ARGV[3] = plan
// ARGV[4] = doc
//
// Returns 1 if created, 0 if the document already existed.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[2], "plan", ARGV[3], "doc", ARGV[4])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

// applyScript commits a mutation if the version matches.
// KEYS[1] = user hash key
// KEYS[2] = new plan set
// KEYS[3] = events list of the record's period
// KEYS[4] = daily hash of the record's period
// KEYS[5] = summary key of the sealed period
// KEYS[6..] = every plan set
// ARGV[1] = expected version
// ARGV[2] = new version
// ARGV[3] = new plan
// ARGV[4] = doc
// ARGV[5] = user id
// ARGV[6] = record JSON ("" if none)
// ARGV[7] = record day key
// ARGV[8] = summary JSON ("" if none)
//
// Returns:
//
//	1  = applied
//	0  = version conflict
//	-1 = document not found
var applyScript = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if not cur then
    return -1
end
if tonumber(cur) ~= tonumber(ARGV[1]) then
    return 0
end

for i = 6, #KEYS do
    if KEYS[i] ~= KEYS[2] then
        redis.call("SREM", KEYS[i], ARGV[5])
    end
end
redis.call("SADD", KEYS[2], ARGV[5])
redis.call("HSET", KEYS[1], "version", ARGV[2], "plan", ARGV[3], "doc", ARGV[4])

if ARGV[6] ~= "" then
    redis.call("RPUSH", KEYS[3], ARGV[6])
    redis.call("HINCRBY", KEYS[4], ARGV[7], 1)
end
if ARGV[8] ~= "" then
    redis.call("SET", KEYS[5], ARGV[8], "NX")
end
return 1
`)

// Get returns the user's quota document.
func (s *Store) Get(ctx context.Context, userID string) (ql.UserQuota, error) {
	vals, err := s.client.HMGet(ctx, s.userKey(userID), "version", "doc").Result()
	if err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/redis: get: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return ql.UserQuota{}, ql.ErrUserNotFound
	}

	version, err := strconv.ParseInt(vals[0].(string), 10, 64)
	if err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/redis: parse version %s: %w", userID, err)
	}
	var q ql.UserQuota
	if err := json.Unmarshal([]byte(vals[1].(string)), &q); err != nil {
		return ql.UserQuota{}, fmt.Errorf("quotaledger/redis: decode quota %s: %w", userID, err)
	}
	q.Version = version
	return q, nil
}

// Create inserts q unless a document already exists.
func (s *Store) Create(ctx context.Context, q ql.UserQuota) (bool, error) {
	doc, err := json.Marshal(q)
	if err != nil {
		return false, fmt.Errorf("quotaledger/redis: encode quota: %w", err)
	}
	created, err := createScript.Run(ctx, s.client,
		[]string{s.userKey(q.UserID), s.usersKey(), s.planKey(q.Plan)},
		q.UserID, q.Version, string(q.Plan), string(doc),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("quotaledger/redis: create: %w", err)
	}
	return created == 1, nil
}

// Apply commits m atomically if the stored version matches.
func (s *Store) Apply(ctx context.Context, expectedVersion int64, m ql.Mutation) error {
	if m.Quota.Version != expectedVersion+1 {
		return fmt.Errorf("quotaledger/redis: apply: version %d does not follow %d", m.Quota.Version, expectedVersion)
	}
	doc, err := json.Marshal(m.Quota)
	if err != nil {
		return fmt.Errorf("quotaledger/redis: encode quota: %w", err)
	}

	userID := m.Quota.UserID
	eventsKey, dailyKey, summaryKey := s.noneKey(), s.noneKey(), s.noneKey()
	var recordJSON, day, summaryJSON string

	if rec := m.Record; rec != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("quotaledger/redis: encode record: %w", err)
		}
		recordJSON = string(payload)
		day = ql.DayKey(rec.Timestamp)
		eventsKey = s.eventsKey(rec.UserID, rec.Period)
		dailyKey = s.dailyKey(rec.UserID, rec.Period)
	}
	if seal := m.Seal; seal != nil {
		payload, err := json.Marshal(seal.Summary)
		if err != nil {
			return fmt.Errorf("quotaledger/redis: encode summary: %w", err)
		}
		summaryJSON = string(payload)
		summaryKey = s.summaryKey(seal.UserID, seal.Period)
	}

	keys := []string{s.userKey(userID), s.planKey(m.Quota.Plan), eventsKey, dailyKey, summaryKey}
	for _, p := range ql.AllPlans() {
		keys = append(keys, s.planKey(p))
	}

	result, err := applyScript.Run(ctx, s.client, keys,
		expectedVersion, m.Quota.Version, string(m.Quota.Plan), string(doc),
		userID, recordJSON, day, summaryJSON,
	).Int64()
	if err != nil {
		return fmt.Errorf("quotaledger/redis: apply: %w", err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return ql.ErrConflict
	case -1:
		return ql.ErrUserNotFound
	default:
		return fmt.Errorf("quotaledger/redis: unexpected apply result: %d", result)
	}
}

// History returns one period's records, daily counts and seal.
func (s *Store) History(ctx context.Context, userID, period string) (ql.UsageHistory, error) {
	h := ql.UsageHistory{UserID: userID, Period: period, Daily: make(map[string]int64)}

	raw, err := s.client.LRange(ctx, s.eventsKey(userID, period), 0, -1).Result()
	if err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/redis: history: %w", err)
	}
	for _, item := range raw {
		var rec ql.UsageRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/redis: decode record: %w", err)
		}
		h.Records = append(h.Records, rec)
	}

	daily, err := s.client.HGetAll(ctx, s.dailyKey(userID, period)).Result()
	if err != nil {
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/redis: history daily: %w", err)
	}
	for d, v := range daily {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/redis: parse daily %s: %w", d, err)
		}
		h.Daily[d] = n
	}

	payload, err := s.client.Get(ctx, s.summaryKey(userID, period)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return ql.UsageHistory{}, fmt.Errorf("quotaledger/redis: history summary: %w", err)
	default:
		var summary ql.HistorySummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return ql.UsageHistory{}, fmt.Errorf("quotaledger/redis: decode summary: %w", err)
		}
		h.Summary = &summary
	}
	return h, nil
}

// ListUsers returns matching user ids in ascending order.
func (s *Store) ListUsers(ctx context.Context, filter ql.UserFilter) ([]string, error) {
	key := s.usersKey()
	if filter.Plan != nil {
		key = s.planKey(*filter.Plan)
	}
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("quotaledger/redis: list users: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
