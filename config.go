package quotaledger

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level quota service configuration.
type Config struct {
	DefaultPlan    PlanType      `yaml:"default_plan"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
	Retry          RetryConfig   `yaml:"retry"`
	Plans          []PlanConfig  `yaml:"plans"`
}

// RetryConfig bounds retries against store version conflicts.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// PlanConfig defines one catalog entry.
type PlanConfig struct {
	Type       PlanType               `yaml:"type"`
	Name       string                 `yaml:"name"`
	PriceCents int64                  `yaml:"price_cents"`
	Limits     map[ResourceType]Limit `yaml:"limits"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quotaledger: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("quotaledger: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency. An empty
// plans list means the default catalog.
func (c Config) Validate() error {
	if c.CacheTTL < 0 {
		return fmt.Errorf("quotaledger: config: cache_ttl must not be negative")
	}
	if c.ReservationTTL < 0 {
		return fmt.Errorf("quotaledger: config: reservation_ttl must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("quotaledger: config: retry.max_attempts must not be negative")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("quotaledger: config: retry.base_delay must not be negative")
	}

	types := make(map[PlanType]bool, len(c.Plans))
	for i, p := range c.Plans {
		if p.Type == "" {
			return fmt.Errorf("quotaledger: config: plans[%d]: type is required", i)
		}
		if !p.Type.Valid() {
			return fmt.Errorf("quotaledger: config: plans[%d]: unknown plan type %q", i, p.Type)
		}
		if types[p.Type] {
			return fmt.Errorf("quotaledger: config: duplicate plan %q", p.Type)
		}
		types[p.Type] = true

		if p.PriceCents < 0 {
			return fmt.Errorf("quotaledger: config: plans[%d] (%s): price_cents must not be negative", i, p.Type)
		}
		for r := range p.Limits {
			if !r.Valid() {
				return fmt.Errorf("quotaledger: config: plans[%d] (%s): invalid resource %q", i, p.Type, r)
			}
		}
	}

	if c.DefaultPlan != "" && !c.DefaultPlan.Valid() {
		return fmt.Errorf("quotaledger: config: unknown default_plan %q", c.DefaultPlan)
	}
	if len(c.Plans) > 0 {
		def := c.DefaultPlan
		if def == "" {
			def = PlanFree
		}
		if !types[def] {
			return fmt.Errorf("quotaledger: config: default_plan %q is not in plans", def)
		}
	}

	return nil
}

// Catalog builds the plan catalog. With no plans configured it returns
// DefaultCatalog.
func (c Config) Catalog() (*Catalog, error) {
	if len(c.Plans) == 0 {
		return DefaultCatalog(), nil
	}
	plans := make([]Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		plans = append(plans, Plan{
			Type:       p.Type,
			Name:       p.Name,
			PriceCents: p.PriceCents,
			Limits:     QuotaLimits(p.Limits).Clone(),
		})
	}
	return NewCatalog(plans...)
}

// Options turns the config into service options. Zero values keep the
// service defaults.
func (c Config) Options() ([]Option, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return nil, err
	}

	opts := []Option{WithCatalog(catalog)}
	if c.DefaultPlan != "" {
		opts = append(opts, WithDefaultPlan(c.DefaultPlan))
	}
	if c.CacheTTL > 0 {
		opts = append(opts, WithCacheTTL(c.CacheTTL))
	}
	if c.ReservationTTL > 0 {
		opts = append(opts, WithReservationTTL(c.ReservationTTL))
	}
	if c.Retry.MaxAttempts > 0 || c.Retry.BaseDelay > 0 {
		attempts := c.Retry.MaxAttempts
		if attempts == 0 {
			attempts = DefaultRetryAttempts
		}
		opts = append(opts, WithRetry(attempts, c.Retry.BaseDelay))
	}
	return opts, nil
}
