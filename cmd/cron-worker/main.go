package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/recapz-backend/internal/bootstrap"
	"github.com/angelmondragon/recapz-backend/internal/cron"
	"github.com/angelmondragon/recapz-backend/pkg/config"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
	"github.com/angelmondragon/recapz-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	cfg, logg, err := bootstrap.LoadConfig("cron-worker")
	if err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap cron worker", err)
		os.Exit(1)
	}
	defer app.Close()

	lock, err := newLock(cfg, app.Redis)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(app)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(app.Registry),
		Interval: cfg.Jobs.ReconcileInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		app.Close()
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(app *bootstrap.App) (*cron.Registry, error) {
	creditReset, err := cron.NewCreditResetJob(cron.CreditResetJobParams{Logger: app.Logger, Ledger: app.Ledger})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewReconcileJob(cron.ReconcileJobParams{Logger: app.Logger, Reconciler: app.Reconciler})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewWebhookRetentionJob(cron.WebhookRetentionJobParams{Logger: app.Logger, Store: app.WebhookClaims})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(creditReset, reconcile, retention), nil
}

// newLock uses a process-local lock for the single-file sqlite setup, where
// only one cron worker can run anyway.
func newLock(cfg *config.Config, client *redis.Client) (cron.Lock, error) {
	if cfg.DB.IsSQLite() {
		return &cron.LocalLock{}, nil
	}
	return cron.NewRedisLock(client, lockName+":"+envName(cfg.App.Env), 0)
}

func envName(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
