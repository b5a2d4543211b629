package quotaledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultRetryAttempts bounds Store.Apply attempts per mutating call.
	DefaultRetryAttempts = 5
	// DefaultRetryBaseDelay is the first backoff delay after a version conflict.
	DefaultRetryBaseDelay = 5 * time.Millisecond
	// DefaultReservationTTL is how long an unsettled reservation holds quota.
	DefaultReservationTTL = 15 * time.Minute
)

// Service is the single authority over per-user quota state.
type Service struct {
	store          Store
	catalog        *Catalog
	cache          *Cache
	cacheTTL       time.Duration
	clock          Clock
	logger         *slog.Logger
	meter          Meter
	retryAttempts  int
	retryBaseDelay time.Duration
	reservationTTL time.Duration
	defaultPlan    PlanType
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog sets the plan catalog.
func WithCatalog(c *Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithCache sets the read cache. It overrides WithCacheTTL.
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCacheTTL sets the TTL of the default cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithClock sets the clock used for periods and timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(s *Service) { s.meter = m }
}

// WithRetry bounds retries against store version conflicts.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		s.retryAttempts = maxAttempts
		s.retryBaseDelay = baseDelay
	}
}

// WithReservationTTL sets how long an unsettled reservation holds quota.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Service) { s.reservationTTL = ttl }
}

// WithDefaultPlan sets the plan used for lazily created users.
func WithDefaultPlan(p PlanType) Option {
	return func(s *Service) { s.defaultPlan = p }
}

// NewService creates a Service backed by store. Defaults (DefaultCatalog,
// 60s cache, system clock, slog.Default, no-op meter) are used unless
// overridden via options.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("quotaledger: store is required")
	}

	s := &Service{
		store:          store,
		retryAttempts:  DefaultRetryAttempts,
		retryBaseDelay: DefaultRetryBaseDelay,
		reservationTTL: DefaultReservationTTL,
		defaultPlan:    PlanFree,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Apply defaults after options.
	if s.catalog == nil {
		s.catalog = DefaultCatalog()
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.cache == nil {
		s.cache = NewCache(s.cacheTTL, s.clock)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.meter == nil {
		s.meter = &noopMeter{}
	}
	if s.retryAttempts < 1 {
		s.retryAttempts = 1
	}
	if s.retryBaseDelay <= 0 {
		s.retryBaseDelay = DefaultRetryBaseDelay
	}
	if s.reservationTTL <= 0 {
		s.reservationTTL = DefaultReservationTTL
	}

	if _, err := s.catalog.Plan(s.defaultPlan); err != nil {
		return nil, fmt.Errorf("quotaledger: default plan: %w", err)
	}

	return s, nil
}

// Cache returns the service's read cache.
func (s *Service) Cache() *Cache { return s.cache }

// Catalog returns the plan catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// CheckQuota reports whether userID may consume one unit of resource. It
// never writes, apart from lazily creating a missing user on the default plan.
func (s *Service) CheckQuota(ctx context.Context, userID string, resource ResourceType) (bool, QuotaInfo, error) {
	start := time.Now()

	if !resource.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidResourceType, resource)
		s.meter.OnCheck(CheckEvent{UserID: userID, Resource: resource, Duration: time.Since(start), Error: err})
		return false, QuotaInfo{Resource: resource}, err
	}

	q, hit, err := s.load(ctx, userID)
	if err != nil {
		s.meter.OnCheck(CheckEvent{UserID: userID, Resource: resource, Duration: time.Since(start), Error: err})
		return false, QuotaInfo{Resource: resource}, err
	}

	allowed, info := s.evaluate(q, resource, s.clock.Now())
	info.CacheHit = hit

	s.meter.OnCheck(CheckEvent{
		UserID:   userID,
		Resource: resource,
		Allowed:  allowed,
		CacheHit: hit,
		Used:     info.Used,
		Limit:    info.Limit,
		Duration: time.Since(start),
	})
	return allowed, info, nil
}

// GetRemainingQuota returns the units left for resource. An unlimited limit
// yields an unlimited Remaining.
func (s *Service) GetRemainingQuota(ctx context.Context, userID string, resource ResourceType) (Remaining, error) {
	_, info, err := s.CheckQuota(ctx, userID, resource)
	if err != nil {
		return Remaining{}, err
	}
	if info.Suspended {
		return Remaining{}, nil
	}
	return info.Remaining, nil
}

// GetUsageStats aggregates the current period and lifetime totals.
func (s *Service) GetUsageStats(ctx context.Context, userID string) (UsageStats, error) {
	q, _, err := s.load(ctx, userID)
	if err != nil {
		return UsageStats{}, err
	}

	now := s.clock.Now()
	stats := UsageStats{
		UserID:    q.UserID,
		Plan:      q.Plan,
		Suspended: q.Suspended,
		Period:    q.Period,
		Resources: make(map[ResourceType]ResourceUsage),
		Lifetime:  q.Lifetime.Clone(),
	}
	if q.Period.Ended(now) {
		stats.Period = PeriodFor(now)
	}
	for _, r := range AllResources() {
		_, info := s.evaluate(q, r, now)
		stats.Resources[r] = ResourceUsage{
			Used:      info.Used,
			Reserved:  info.Reserved,
			Limit:     info.Limit,
			Remaining: info.Remaining,
		}
	}
	return stats, nil
}

// GetUsageHistory returns the usage history of one period ("YYYY-MM").
func (s *Service) GetUsageHistory(ctx context.Context, userID, period string) (UsageHistory, error) {
	if _, err := ParsePeriodKey(period); err != nil {
		return UsageHistory{}, err
	}
	h, err := s.store.History(ctx, userID, period)
	if err != nil {
		return UsageHistory{}, s.storeErr(ctx, "history", userID, err)
	}
	return h, nil
}

// evaluate computes the allow decision and display info for q at now. A
// stored period that has already ended reads as zero usage.
func (s *Service) evaluate(q UserQuota, resource ResourceType, now time.Time) (bool, QuotaInfo) {
	used := q.Used(resource)
	periodEnd := q.Period.End
	if q.Period.Ended(now) {
		used = 0
		periodEnd = PeriodFor(now).End
	}
	reserved := s.liveReserved(q, resource, now)
	limit := q.Limits.Get(resource)

	info := QuotaInfo{
		Resource:  resource,
		Plan:      q.Plan,
		Used:      used,
		Reserved:  reserved,
		Limit:     limit,
		Remaining: limit.Remaining(used + reserved),
		Suspended: q.Suspended,
		PeriodEnd: periodEnd,
	}

	switch {
	case q.Suspended:
		return false, info
	case limit.IsUnlimited():
		return true, info
	default:
		return limit.Allows(used + reserved), info
	}
}

// liveReserved counts reservations for resource that have not expired.
func (s *Service) liveReserved(q UserQuota, resource ResourceType, now time.Time) int64 {
	var n int64
	for _, r := range q.Reservations {
		if r.Resource == resource && now.Sub(r.CreatedAt) < s.reservationTTL {
			n++
		}
	}
	return n
}

// load returns the user's document, from cache when fresh.
func (s *Service) load(ctx context.Context, userID string) (UserQuota, bool, error) {
	if q, ok := s.cache.Get(userID); ok {
		return q, true, nil
	}

	gen := s.cache.Generation(userID)
	q, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return UserQuota{}, false, err
	}
	s.cache.PutIfGeneration(q, gen)
	return q, false, nil
}

// getOrCreate reads the user's document from the store, creating it on the
// default plan if missing. It never consults the cache.
func (s *Service) getOrCreate(ctx context.Context, userID string) (UserQuota, error) {
	if userID == "" {
		return UserQuota{}, errUserIDRequired
	}

	q, err := s.store.Get(ctx, userID)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return UserQuota{}, s.storeErr(ctx, "get", userID, err)
	}

	plan, err := s.catalog.Plan(s.defaultPlan)
	if err != nil {
		return UserQuota{}, err
	}
	if _, err := s.store.Create(ctx, newUserQuota(userID, plan, s.clock.Now())); err != nil {
		return UserQuota{}, s.storeErr(ctx, "create", userID, err)
	}
	s.logger.Debug("quota initialized lazily", "user", userID, "plan", plan.Type)

	q, err = s.store.Get(ctx, userID)
	if err != nil {
		return UserQuota{}, s.storeErr(ctx, "get", userID, err)
	}
	return q, nil
}

// storeErr logs an infrastructure failure and wraps it as *StoreError.
// Conditions the caller must see as-is pass through unchanged.
func (s *Service) storeErr(ctx context.Context, op, userID string, err error) error {
	var se *StoreError
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrConflict), errors.As(err, &se):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	s.logger.ErrorContext(ctx, "quota store failure", "op", op, "user", userID, "error", err)
	return &StoreError{Op: op, UserID: userID, Err: err}
}

func newUserQuota(userID string, plan Plan, now time.Time) UserQuota {
	return UserQuota{
		UserID:    userID,
		Plan:      plan.Type,
		Limits:    plan.Limits.Clone(),
		Usage:     make(map[ResourceType]int64),
		Period:    PeriodFor(now),
		LastReset: now,
		Lifetime: LifetimeStats{
			ByResource:  make(map[ResourceType]int64),
			MemberSince: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}
