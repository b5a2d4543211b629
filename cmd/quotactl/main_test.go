package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), s)
	return m
}

func TestSettings_Defaults(t *testing.T) {
	f, exit, err := ParseCmdLine(pflag.NewFlagSet("test", pflag.ContinueOnError), nil)
	require.NoError(t, err)
	require.False(t, exit)

	s, err := NewSettings(viper.New(), f)
	require.NoError(t, err)
	assert.Equal(t, backendMemory, s.Backend())
	assert.Equal(t, 8, s.Concurrency())
	assert.Equal(t, "stock_report", s.Resource())
	assert.False(t, s.DryRun())
}

func TestSettings_EnvOverridesFlagDefault(t *testing.T) {
	t.Setenv("QUOTA_STORE", "sqlite")
	t.Setenv("QUOTA_USERS_FILE", "/tmp/users.txt")

	f, _, err := ParseCmdLine(pflag.NewFlagSet("test", pflag.ContinueOnError), nil)
	require.NoError(t, err)
	s, err := NewSettings(viper.New(), f)
	require.NoError(t, err)

	assert.Equal(t, backendSQLite, s.Backend())
	assert.Equal(t, "/tmp/users.txt", s.UsersFile())
}

func TestSettings_InvalidBackend(t *testing.T) {
	f, _, err := ParseCmdLine(pflag.NewFlagSet("test", pflag.ContinueOnError), []string{"--store", "mongo"})
	require.NoError(t, err)
	_, err = NewSettings(viper.New(), f)
	assert.ErrorContains(t, err, "invalid store backend")
}

func TestRun_RequiresOneCommand(t *testing.T) {
	r := runCLI(t)
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "expected exactly one command")
}

func TestRun_HelpGoesToFlagOutput(t *testing.T) {
	r := runCLI(t, "--help")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stderr, "Usage of quotactl [flags]")
	assert.Contains(t, r.stderr, "--users-file")
	assert.Empty(t, r.stdout)
}

func TestRun_UnknownCommand(t *testing.T) {
	r := runCLI(t, "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "unknown command")
}

func TestRun_StatsLazilyCreatesFreeUser(t *testing.T) {
	r := runCLI(t, "--user", "alice", "stats")
	require.Equal(t, 0, r.code, r.stderr)

	m := decode(t, r.stdout)
	assert.Equal(t, "alice", m["user_id"])
	assert.Equal(t, "free", m["plan"])
	res := m["resources"].(map[string]any)["stock_report"].(map[string]any)
	assert.EqualValues(t, 0, res["used"])
	assert.EqualValues(t, 10, res["limit"])
}

func TestRun_CheckRejectsUnknownResource(t *testing.T) {
	r := runCLI(t, "--user", "alice", "--resource", "bogus", "check")
	assert.Equal(t, 1, r.code)
}

func TestRun_StatsRequiresUser(t *testing.T) {
	r := runCLI(t, "stats")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "--user is required")
}

func TestRun_SQLiteLifecycle(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "quota.db")
	users := filepath.Join(dir, "users.txt")
	require.NoError(t, os.WriteFile(users, []byte("# existing accounts\nalice\nbob\n\nalice\n"), 0o600))
	base := []string{"--store", "sqlite", "--dsn", dsn}

	r := runCLI(t, append(base, "--users-file", users, "--dry-run", "migrate")...)
	require.Equal(t, 0, r.code, r.stderr)
	m := decode(t, r.stdout)
	assert.Equal(t, true, m["dry_run"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, m["planned"])
	assert.Empty(t, m["initialized"])

	r = runCLI(t, append(base, "--users-file", users, "--plan", "pro", "migrate")...)
	require.Equal(t, 0, r.code, r.stderr)
	m = decode(t, r.stdout)
	assert.ElementsMatch(t, []any{"alice", "bob"}, m["initialized"])

	r = runCLI(t, append(base, "--user", "bob", "--plan", "enterprise", "plan")...)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, append(base, "--user", "bob", "check")...)
	require.Equal(t, 0, r.code, r.stderr)
	m = decode(t, r.stdout)
	assert.Equal(t, true, m["allowed"])
	assert.Equal(t, "enterprise", m["plan"])
	assert.Equal(t, "unlimited", m["limit"])

	r = runCLI(t, append(base, "--user", "alice", "suspend")...)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, append(base, "--user", "alice", "check")...)
	require.Equal(t, 0, r.code, r.stderr)
	m = decode(t, r.stdout)
	assert.Equal(t, false, m["allowed"])
	assert.Equal(t, true, m["suspended"])
	assert.Equal(t, "pro", m["plan"])

	r = runCLI(t, append(base, "--user", "alice", "--off", "suspend")...)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, append(base, "reset")...)
	require.Equal(t, 0, r.code, r.stderr)
	m = decode(t, r.stdout)
	assert.ElementsMatch(t, []any{"alice", "bob"}, m["skipped"])
}

func TestRun_WritesMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.prom")

	r := runCLI(t, "--user", "alice", "--metrics-file", path, "check")
	require.Equal(t, 0, r.code, r.stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "quotaledger_checks_total")
}

func TestRun_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_plan: pro
plans:
  - type: free
    limits:
      stock_report: 3
  - type: pro
    limits:
      stock_report: 7
`), 0o600))

	r := runCLI(t, "--config", path, "--user", "carol", "stats")
	require.Equal(t, 0, r.code, r.stderr)
	m := decode(t, r.stdout)
	assert.Equal(t, "pro", m["plan"])
	res := m["resources"].(map[string]any)["stock_report"].(map[string]any)
	assert.EqualValues(t, 7, res["limit"])
}
