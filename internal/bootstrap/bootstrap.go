package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/recapz-backend/internal/billing"
	"github.com/angelmondragon/recapz-backend/internal/cache"
	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/idempotency"
	"github.com/angelmondragon/recapz-backend/internal/jobs"
	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/internal/summarizer"
	"github.com/angelmondragon/recapz-backend/internal/transcripts"
	"github.com/angelmondragon/recapz-backend/pkg/config"
	"github.com/angelmondragon/recapz-backend/pkg/db"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
	"github.com/angelmondragon/recapz-backend/pkg/migrate"
	"github.com/angelmondragon/recapz-backend/pkg/pubsub"
	"github.com/angelmondragon/recapz-backend/pkg/redis"
	"github.com/angelmondragon/recapz-backend/pkg/stripe"
)

const webhookClaimScope = "webhooks"

// LoadConfig reads .env (when present) and the environment, returning the
// config and a logger leveled from it.
func LoadConfig(serviceName string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return nil, logg, err
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Fields:      map[string]string{"env": cfg.App.Env},
	})
	return cfg, logg, nil
}

// App holds the wired components shared by the binaries.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry

	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client
	Stripe *stripe.Client

	Cache      *cache.Cache
	Executor   *resilience.Executor
	Ledger     *credits.Ledger
	Queue      jobs.Queue
	Jobs       *jobs.Service
	Pipeline   *jobs.Pipeline
	Reconciler *jobs.Reconciler

	WebhookClaims *idempotency.DBStore
	Billing       *billing.Service

	memoryQueue *jobs.MemoryQueue
	closers     []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New connects the infrastructure and builds the domain services. On error
// everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}

	app = &App{Config: cfg, Logger: logg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err = app.connect(ctx); err != nil {
		return app, err
	}
	if err = app.buildDomain(ctx); err != nil {
		return app, err
	}
	return app, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	dbClient, err := db.New(ctx, cfg.DB, a.Logger)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	a.DB = dbClient
	a.onClose("database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, a.Logger, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, a.Logger)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	a.Redis = redisClient
	a.onClose("redis", redisClient.Close)

	if cfg.Jobs.UsesPubSub() {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, a.Logger)
		if err != nil {
			return fmt.Errorf("bootstrap pubsub: %w", err)
		}
		a.PubSub = psClient
		a.onClose("pubsub", psClient.Close)
	}

	if cfg.Stripe.APIKey != "" || cfg.Stripe.Secret != "" {
		stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, a.Logger)
		if err != nil {
			return fmt.Errorf("bootstrap stripe: %w", err)
		}
		a.Stripe = stripeClient
	} else {
		a.Logger.Warn(ctx, "stripe not configured, billing webhooks disabled")
	}
	return nil
}

func (a *App) buildDomain(ctx context.Context) error {
	cfg := a.Config
	pipelineMetrics := metrics.NewPipelineMetrics(a.Registry)

	a.Cache = cache.New(cache.Options{
		MaxItems:      cfg.Cache.MaxItems,
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        a.Logger,
	})
	a.Cache.Start(ctx)
	a.onClose("cache", func() error {
		a.Cache.Stop()
		return nil
	})
	metrics.RegisterCache(a.Registry, "app", a.Cache.Snapshot)
	loader := cache.NewLoader(a.Cache)
	a.onClose("cache loader", func() error {
		loader.Stop()
		return nil
	})

	a.Executor = resilience.NewExecutor(resilience.Options{
		Classifier: resilience.DefaultClassifier,
		Logger:     a.Logger,
		Metrics:    metrics.NewExecutorMetrics(a.Registry),
	})

	ledger, err := credits.NewLedger(credits.LedgerParams{
		Repo:    credits.NewRepository(a.DB.DB()),
		Cache:   a.Cache,
		Logger:  a.Logger,
		Metrics: pipelineMetrics,
	})
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}
	a.Ledger = ledger

	transcriptClient, err := transcripts.NewClient(cfg.Transcripts)
	if err != nil {
		return fmt.Errorf("build transcripts client: %w", err)
	}
	summaryClient, err := summarizer.NewClient(cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("build summarizer client: %w", err)
	}

	if err := a.buildQueue(); err != nil {
		return err
	}

	repo := jobs.NewRepository(a.DB.DB())
	a.Jobs, err = jobs.NewService(jobs.ServiceParams{
		DB:              a.DB,
		Repo:            repo,
		Ledger:          ledger,
		Executor:        a.Executor,
		Loader:          loader,
		Metadata:        transcriptClient,
		Queue:           a.Queue,
		MetadataTimeout: cfg.Transcripts.AttemptTimeout,
		Metrics:         pipelineMetrics,
		Logger:          a.Logger,
	})
	if err != nil {
		return fmt.Errorf("build jobs service: %w", err)
	}

	a.Pipeline, err = jobs.NewPipeline(jobs.PipelineParams{
		DB:                   a.DB,
		Repo:                 repo,
		Ledger:               ledger,
		Executor:             a.Executor,
		Loader:               loader,
		Transcripts:          transcriptClient,
		Generator:            summaryClient,
		Model:                cfg.OpenAI.Model,
		FallbackModels:       cfg.OpenAI.Fallbacks(),
		PromptVersion:        cfg.Jobs.PromptVersion,
		TransactionalPersist: cfg.Jobs.TransactionalPersist,
		TranscriptTimeout:    cfg.Transcripts.AttemptTimeout,
		SummaryTimeout:       cfg.OpenAI.AttemptTimeout,
		Metrics:              pipelineMetrics,
		Logger:               a.Logger,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	a.Reconciler, err = jobs.NewReconciler(jobs.ReconcilerParams{
		DB:         a.DB,
		Conn:       a.DB.DB(),
		Repo:       repo,
		Ledger:     ledger,
		Executor:   a.Executor,
		StaleAfter: cfg.Jobs.StaleAfter,
		Metrics:    pipelineMetrics,
		Logger:     a.Logger,
	})
	if err != nil {
		return fmt.Errorf("build reconciler: %w", err)
	}

	return a.buildBilling()
}

func (a *App) buildQueue() error {
	cfg := a.Config
	if cfg.Jobs.UsesPubSub() {
		queue, err := jobs.NewPubSubQueue(a.PubSub.JobsPublisher(), a.PubSub.JobsSubscription(), a.Logger)
		if err != nil {
			return fmt.Errorf("build pubsub queue: %w", err)
		}
		a.Queue = queue
		return nil
	}

	queue := jobs.NewMemoryQueue(jobs.MemoryQueueOptions{
		Buffer:         cfg.Jobs.QueueBuffer,
		Workers:        cfg.Jobs.Workers,
		MaxDeliveries:  cfg.Jobs.MaxDeliveries,
		PublishTimeout: cfg.Jobs.PublishTimeout,
		Logger:         a.Logger,
	})
	a.memoryQueue = queue
	a.Queue = queue
	a.onClose("memory queue", func() error {
		queue.Close()
		return nil
	})
	return nil
}

func (a *App) buildBilling() error {
	cfg := a.Config
	a.WebhookClaims = idempotency.NewDBStore(a.DB.DB())
	if a.Stripe == nil {
		return nil
	}

	params := billing.ServiceParams{
		Ledger:            a.Ledger,
		Stripe:            a.Stripe,
		Catalog:           billing.NewCatalog(cfg.Stripe),
		TransactionRunner: a.DB,
		Logger:            a.Logger,
	}
	if cfg.Idempotency.UsesRedis() {
		claims, err := idempotency.NewRedisStore(a.Redis, cfg.Idempotency.TTL, webhookClaimScope)
		if err != nil {
			return fmt.Errorf("build redis idempotency store: %w", err)
		}
		params.RedisClaims = claims
	} else {
		params.DBClaims = a.WebhookClaims
	}

	svc, err := billing.NewService(params)
	if err != nil {
		return fmt.Errorf("build billing service: %w", err)
	}
	a.Billing = svc
	return nil
}

// InProcessQueue reports whether jobs are consumed by the process that
// submits them.
func (a *App) InProcessQueue() bool {
	return a.memoryQueue != nil
}

// Worker builds a consumer that feeds the queue into the pipeline.
func (a *App) Worker() (*jobs.Worker, error) {
	return jobs.NewWorker(a.Queue, a.Pipeline, a.Logger)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Error(context.Background(), fmt.Sprintf("error closing %s", c.name), err)
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errs
}
