package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/recapz-backend/api/controllers"
	"github.com/angelmondragon/recapz-backend/api/routes"
	"github.com/angelmondragon/recapz-backend/internal/bootstrap"
	"github.com/angelmondragon/recapz-backend/pkg/env"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, logg, err := bootstrap.LoadConfig("api")
	if err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap api", err)
		os.Exit(1)
	}
	defer app.Close()

	params := routes.Params{
		Config:      cfg,
		Logger:      logg,
		Jobs:        app.Jobs,
		Credits:     app.Ledger,
		RateLimiter: app.Redis,
		Gatherer:    app.Registry,
		Checks: []controllers.ReadinessCheck{
			{Name: "database", Ping: app.DB.Ping},
			{Name: "redis", Ping: app.Redis.Ping},
		},
	}
	if app.PubSub != nil {
		params.Checks = append(params.Checks, controllers.ReadinessCheck{Name: "pubsub", Ping: app.PubSub.Ping})
	}
	if app.Billing != nil {
		params.Billing = app.Billing
		params.StripeSecrets = app.Stripe
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	id := env.First("local", "DYNO")
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})

	if app.InProcessQueue() {
		worker, err := app.Worker()
		if err != nil {
			logg.Error(ctx, "failed to create in-process worker", err)
			os.Exit(1)
		}
		go runWorker(ctx, logg, worker.Run)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			app.Close()
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}

func runWorker(ctx context.Context, logg *logger.Logger, run func(context.Context) error) {
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "in-process worker stopped unexpectedly", err)
	}
}
