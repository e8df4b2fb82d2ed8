package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"telecom-keeper/internal/audit"
	"telecom-keeper/internal/auth"
	"telecom-keeper/internal/calls"
	"telecom-keeper/internal/config"
	"telecom-keeper/internal/httpapi"
	"telecom-keeper/internal/jobs"
	"telecom-keeper/internal/processing"
	"telecom-keeper/internal/registration"
	"telecom-keeper/internal/stream"
	"telecom-keeper/internal/telephony"
	"telecom-keeper/pkg/logger"
	"telecom-keeper/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

type daemonConfig struct {
	config.Config
	Policy    config.Policy
	Addr      string
	Autostart bool
}

// run wires every component and blocks until ctx is cancelled or a
// component fails.
func run(rootCtx context.Context, dc daemonConfig, log *slog.Logger) error {
	cfg, policy := dc.Config, dc.Policy

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	auditRepo, db, err := openAuditRepo(rootCtx, cfg)
	if err != nil {
		return err
	}
	var ready func(context.Context) error
	if db != nil {
		defer db.Close()
		ready = func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) }
	}

	lease, closeRedis, err := openLease(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	g, ctx := errgroup.WithContext(rootCtx)

	var conn jobs.Connectivity
	if policy.Network.ProbeAddr != "" {
		probe := jobs.NewProbeConnectivity(policy.Network.ProbeAddr, policy.Network.ProbeInterval.Duration)
		probe.Log = log
		conn = probe
		g.Go(func() error {
			probe.Run(ctx)
			return nil
		})
	}

	sched := jobs.NewLocalScheduler(jobs.LocalOptions{
		Connectivity: conn,
		Lease:        lease,
		Logger:       log,
	})

	engine := telephony.NewLoopbackEngine()
	mainJob := &processing.EngineJob{
		Engine:                   engine,
		StepInterval:             policy.Engine.StepInterval.Duration,
		ToleratedDeltaMultiplier: policy.Engine.ToleratedDeltaMultiplier,
		MaxConsecutiveFailures:   policy.Engine.MaxConsecutiveFailures,
		Log:                      log.With("component", "engine"),
	}
	sup, err := processing.NewSupervisor(processing.Options{
		Scheduler:           sched,
		Main:                mainJob.Run,
		MainRequiresNetwork: true,
		HealthInterval:      policy.Health.Interval.Duration,
		Logger:              log,
	})
	if err != nil {
		return err
	}

	callRec := calls.NewReconciler(engine, calls.Options{
		ResolutionTimeout: policy.Calls.ResolutionTimeout.Duration,
		ResolutionRetry:   policy.Calls.ResolutionRetry.Duration,
		Logger:            log,
	})
	callRec.Attach()

	regRec := registration.NewReconciler(engine, registration.Options{
		UnregisterTimeout: policy.Registration.UnregisterTimeout.Duration,
		Logger:            log,
	})
	regRec.Attach()

	auditSvc := audit.NewService(auditRepo, cfg.App.StationID, log)
	hub := stream.NewHub(log)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		stream.Forward(hub, stream.TopicProcessing, sup.ObserveProcessing(ctx))
		return nil
	})
	g.Go(func() error {
		stream.Forward(hub, stream.TopicCallHistory, callRec.ObserveCallHistory(ctx, time.Time{}))
		return nil
	})
	g.Go(func() error {
		stream.Forward(hub, stream.TopicRegistration, regRec.ObserveRegistrations(ctx))
		return nil
	})
	g.Go(func() error {
		auditSvc.RecordProcessing(ctx, sup.ObserveProcessing(ctx))
		return nil
	})
	g.Go(func() error {
		auditSvc.RecordRegistrationFailures(ctx, regRec.ObserveRegistrations(ctx))
		return nil
	})

	if policy.Demo.Enabled {
		demo := telephony.NewDemoRunner(engine)
		demo.Interval = policy.Demo.Interval.Duration
		g.Go(func() error {
			demo.Run(ctx)
			return nil
		})
		log.Info("demo calls enabled", "interval", demo.Interval)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	httpapi.Handlers{
		Auth:          authManager,
		Processing:    sup,
		Calls:         callRec,
		Registrations: regRec,
		Audit:         auditSvc,
		StationID:     cfg.App.StationID,
		IssueTokens:   cfg.IsLocal(),
		Ready:         ready,
	}.Mount(r, hub)

	srv := &http.Server{
		Addr:              dc.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays unset: /v1/ws connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}
	g.Go(func() error {
		log.Info("keeperd listening", "addr", srv.Addr, "env", cfg.App.Env, "station_id", cfg.App.StationID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if dc.Autostart {
		g.Go(func() error {
			if err := sup.StartProcessing(ctx); err != nil {
				// The supervisor reports Failed. Unless enqueueing itself
				// failed, the health job is running and retries the main job
				// on its next tick.
				log.Error("autostart failed", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		if err := sched.Close(shutdownCtx); err != nil {
			log.Error("scheduler shutdown failed", "err", err)
		}
		sup.Close()
		callRec.Close()
		regRec.Close()
		return nil
	})

	return g.Wait()
}

// openAuditRepo returns a Postgres-backed repository and its pool when
// DB_HOST is set, and an in-memory repository with a nil pool otherwise.
func openAuditRepo(ctx context.Context, cfg config.Config) (audit.Repository, *sql.DB, error) {
	if !cfg.HasDB() {
		return audit.NewMemoryRepo(), nil, nil
	}
	db, err := utils.OpenPostgres(ctx, utils.DriverPGX, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init: %w", err)
	}
	repo := audit.NewPostgresRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

// openLease returns a Redis lease when REDIS_HOST is set, so two keeperd
// instances sharing a host group never run the engine job twice.
func openLease(ctx context.Context, cfg config.Config) (jobs.Lease, func(), error) {
	if !cfg.HasRedis() {
		return nil, func() {}, nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return nil, nil, fmt.Errorf("redis init: %w", err)
	}
	return jobs.NewRedisLease(rdb), func() { _ = rdb.Close() }, nil
}
