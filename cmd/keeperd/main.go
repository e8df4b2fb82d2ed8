// Keeperd keeps the telephony engine alive on a host: it supervises the
// engine job, reconciles call history and account registration, and serves
// the control API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"telecom-keeper/internal/config"
	"telecom-keeper/pkg/logger"

	"github.com/spf13/pflag"
)

func main() {
	var (
		policyPath = pflag.StringP("policy", "p", "", "Path to the processing policy TOML file (defaults apply when empty)")
		bind       = pflag.String("bind", "", "HTTP listen address, overrides APP_PORT (e.g. 127.0.0.1:8080)")
		autostart  = pflag.Bool("autostart", false, "Start processing as soon as the daemon is up")
	)
	pflag.Parse()

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	policy, err := config.LoadPolicy(*policyPath)
	if err != nil {
		slog.Error("policy load failed", "path", *policyPath, "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	addr := cfg.HTTPAddr()
	if *bind != "" {
		addr = *bind
	}

	if err := run(rootCtx, daemonConfig{
		Config:    cfg,
		Policy:    policy,
		Addr:      addr,
		Autostart: *autostart,
	}, log); err != nil {
		log.Error("keeperd stopped", "err", err)
		os.Exit(1)
	}
}
