package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/recapz-backend/internal/bootstrap"
	"github.com/angelmondragon/recapz-backend/pkg/env"
)

func main() {
	cfg, logg, err := bootstrap.LoadConfig("worker")
	if err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Jobs.UsesPubSub() {
		logg.Warn(ctx, "memory queue driver selected; the api process consumes jobs and this worker has nothing to do")
		return
	}

	app, err := bootstrap.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap worker", err)
		os.Exit(1)
	}
	defer app.Close()

	worker, err := app.Worker()
	if err != nil {
		logg.Error(ctx, "failed to create jobs worker", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger: logg,
		Worker: worker,
		Dependencies: []dependency{
			{name: "database", ping: app.DB.Ping},
			{name: "redis", ping: app.Redis.Ping},
			{name: "pubsub", ping: app.PubSub.Ping},
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.JobsSubscription,
		"instance":     instanceID(),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		app.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func instanceID() string {
	return env.First("local", "WORKER_ID", "DYNO")
}
