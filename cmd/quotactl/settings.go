package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigPrefix is the environment variable prefix, e.g. QUOTA_STORE.
var ConfigPrefix = "QUOTA"

type backendType string

const (
	backendMemory       backendType = "memory"
	backendSQLite       backendType = "sqlite"
	backendGormPostgres backendType = "gorm-postgres"
	backendPostgres     backendType = "postgres"
	backendRedis        backendType = "redis"
)

var validBackends = []backendType{backendMemory, backendSQLite, backendGormPostgres, backendPostgres, backendRedis}

const (
	flagStore       = "store"
	flagDSN         = "dsn"
	flagRedisAddr   = "redis-addr"
	flagRedisPrefix = "redis-prefix"
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagMetricsFile = "metrics-file"
	flagConcurrency = "concurrency"
	flagDryRun      = "dry-run"
	flagUsersFile   = "users-file"
	flagPlan        = "plan"
	flagUser        = "user"
	flagResource    = "resource"
	flagOff         = "off"
)

var envReplacer = strings.NewReplacer("-", "_")

// ParseCmdLine registers and parses flags. exit is true when the caller
// should stop (help requested or a parse error).
func ParseCmdLine(f *pflag.FlagSet, args []string) (*pflag.FlagSet, bool, error) {
	help := f.BoolP("help", "h", false, "Show usage help")

	f.String(flagStore, string(backendMemory), "Store backend, valid options are: "+quoteStrings(validBackends))
	f.String(flagDSN, "", "Database DSN (sqlite, gorm-postgres and postgres backends)")
	f.String(flagRedisAddr, "localhost:6379", "Redis address (redis backend only)")
	f.String(flagRedisPrefix, "quotaledger:", "Redis key prefix (redis backend only)")
	f.String(flagConfig, "", "Path to YAML quota config (plans, cache and retry settings)")
	f.String(flagLogLevel, "info", "Log level: debug, info, warn, error")
	f.String(flagLogFormat, "text", "Log format: text or json")
	f.String(flagMetricsFile, "", "Write Prometheus metrics to this file on exit (textfile collector format)")

	f.Int(flagConcurrency, 8, "Parallel users for migrate and reset")
	f.Bool(flagDryRun, false, "Only report what migrate would do")
	f.String(flagUsersFile, "", "File with one user id per line (migrate)")
	f.String(flagPlan, "", "Plan type (migrate, reset filter, plan)")
	f.String(flagUser, "", "User id (stats, check, plan, suspend)")
	f.String(flagResource, "stock_report", "Resource type (check)")
	f.Bool(flagOff, false, "Reactivate instead of suspend (suspend)")

	if err := f.Parse(args); err != nil {
		return nil, true, err
	}
	if *help {
		_, _ = fmt.Fprintf(f.Output(), "Usage of %s [flags] <migrate|reset|stats|check|plan|suspend>:\n", f.Name())
		f.PrintDefaults()
		return nil, true, nil
	}
	return f, false, nil
}

// Settings is the resolved CLI configuration: flags, overridden by
// QUOTA_* environment variables.
type Settings struct {
	v       *viper.Viper
	backend backendType
}

// NewSettings binds flags and environment into v.
func NewSettings(v *viper.Viper, f *pflag.FlagSet) (*Settings, error) {
	if err := v.BindPFlags(f); err != nil {
		return nil, err
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer)
	v.SetEnvPrefix(ConfigPrefix)

	back := backendType(strings.ToLower(v.GetString(flagStore)))
	if !slices.Contains(validBackends, back) {
		return nil, fmt.Errorf("invalid store backend (%s), valid options are: %s", back, quoteStrings(validBackends))
	}
	return &Settings{v: v, backend: back}, nil
}

func (s *Settings) Backend() backendType { return s.backend }
func (s *Settings) DSN() string          { return s.v.GetString(flagDSN) }
func (s *Settings) RedisAddr() string    { return s.v.GetString(flagRedisAddr) }
func (s *Settings) RedisPrefix() string  { return s.v.GetString(flagRedisPrefix) }
func (s *Settings) ConfigPath() string   { return s.v.GetString(flagConfig) }
func (s *Settings) LogLevel() string     { return s.v.GetString(flagLogLevel) }
func (s *Settings) LogFormat() string    { return s.v.GetString(flagLogFormat) }
func (s *Settings) MetricsFile() string  { return s.v.GetString(flagMetricsFile) }
func (s *Settings) Concurrency() int     { return s.v.GetInt(flagConcurrency) }
func (s *Settings) DryRun() bool         { return s.v.GetBool(flagDryRun) }
func (s *Settings) UsersFile() string    { return s.v.GetString(flagUsersFile) }
func (s *Settings) Plan() string         { return s.v.GetString(flagPlan) }
func (s *Settings) User() string         { return s.v.GetString(flagUser) }
func (s *Settings) Resource() string     { return s.v.GetString(flagResource) }
func (s *Settings) Off() bool            { return s.v.GetBool(flagOff) }

func quoteStrings[T ~string](vals []T) string {
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteRune('"')
		sb.WriteString(string(v))
		sb.WriteRune('"')
	}
	return sb.String()
}
