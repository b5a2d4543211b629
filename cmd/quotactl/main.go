// Command quotactl administers quota documents: migrating existing users,
// running the monthly reset and inspecting or changing one user's quota.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	ql "github.com/ineyio/quotaledger"
	"github.com/ineyio/quotaledger/meter"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f := pflag.NewFlagSet("quotactl", pflag.ContinueOnError)
	f.SetOutput(stderr)
	f, exit, err := ParseCmdLine(f, args)
	if exit {
		if err != nil {
			return 2
		}
		return 0
	}

	settings, err := NewSettings(viper.New(), f)
	if err != nil {
		fmt.Fprintln(stderr, "quotactl:", err)
		return 2
	}
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "quotactl: expected exactly one command: migrate, reset, stats, check, plan, suspend")
		return 2
	}

	logger := newLogger(stderr, settings.LogFormat(), settings.LogLevel())

	opts := []ql.Option{ql.WithLogger(logger)}
	if path := settings.ConfigPath(); path != "" {
		cfg, err := ql.LoadConfig(path)
		if err != nil {
			logger.Error("load config", "path", path, "error", err)
			return 1
		}
		cfgOpts, err := cfg.Options()
		if err != nil {
			logger.Error("build catalog", "error", err)
			return 1
		}
		opts = append(opts, cfgOpts...)
	}

	reg := prometheus.NewRegistry()
	opts = append(opts, ql.WithMeter(meter.Multi{
		meter.NewLogMeter(logger.With("component", "meter")),
		meter.NewPrometheusMeter(reg),
	}))

	st, closeStore, err := openStore(ctx, settings)
	if err != nil {
		logger.Error("open store", "backend", settings.Backend(), "error", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	svc, err := ql.NewService(st, opts...)
	if err != nil {
		logger.Error("create service", "error", err)
		return 1
	}

	cmd := &commands{svc: svc, store: st, settings: settings, logger: logger, out: stdout}
	err = cmd.dispatch(ctx, f.Arg(0))

	if path := settings.MetricsFile(); path != "" {
		if werr := prometheus.WriteToTextfile(path, reg); werr != nil {
			logger.Warn("write metrics", "path", path, "error", werr)
		}
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, "quotactl:", err)
		return 2
	case ql.IsBusiness(err):
		fmt.Fprintln(stderr, "quotactl:", err)
		return 3
	default:
		logger.Error("command failed", "command", f.Arg(0), "error", err)
		return 1
	}
}
