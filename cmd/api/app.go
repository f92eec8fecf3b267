package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"disputeflow/audit"
	"disputeflow/auth"
	"disputeflow/config"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/notify"
	"disputeflow/obs"
	"disputeflow/org"
	"disputeflow/scheduler"
	"disputeflow/sla"
)

// app holds the wired process dependencies.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *obs.Metrics
	pool      *pgxpool.Pool
	disputes  *dispute.Service
	policies  *sla.Service
	audits    *audit.Service
	scheduler *scheduler.Scheduler
	verifier  *auth.Verifier
	closers   []func()
}

func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := obs.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics, pool: pool}
	a.closers = append(a.closers, pool.Close)

	notifier := notify.NewThrottled(
		notify.Multi{notify.NewPGStore(pool), notify.NewLogEmitter(logger)},
		cfg.NotifyRatePerSecond,
		cfg.NotifyBurst,
	)

	a.disputes = dispute.NewService(dispute.NewPGStore(pool, cfg.LockTimeout), notifier, logger, metrics).
		WithDefaultResolutionHours(cfg.DefaultResolutionHours)
	a.policies = sla.NewService(sla.NewPGStore(pool))
	a.audits = audit.NewService(audit.NewRepository(pool))
	a.verifier = auth.NewVerifier(cfg.JWTSecret)

	registry, err := a.registry(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.scheduler = scheduler.New(registry, a.disputes, org.NewRepository(pool), notifier, logger, metrics, scheduler.Config{
		EscalationInterval: cfg.EscalationInterval,
		BreachInterval:     cfg.BreachInterval,
		ResyncInterval:     cfg.ResyncInterval,
		ItemTimeout:        cfg.ItemTimeout,
	})
	return a, nil
}

// registry selects the shared Redis registry when configured so several
// processes can split the jobs; otherwise jobs stay in process memory.
func (a *app) registry(ctx context.Context) (scheduler.Registry, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Info("using in-memory job registry", "module", "scheduler", "operation", "bootstrap")
		return scheduler.NewMemoryRegistry(), nil
	}
	client, err := scheduler.ConnectRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d", host, os.Getpid())
	return scheduler.NewRedisRegistry(client, owner), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
