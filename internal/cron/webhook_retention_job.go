package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

const webhookRetentionDays = 30

type idempotencyPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookRetentionJobParams configures pruning of processed webhook keys.
type WebhookRetentionJobParams struct {
	Logger    *logger.Logger
	Store     idempotencyPruner
	Retention int
}

func NewWebhookRetentionJob(params WebhookRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = webhookRetentionDays
	}
	return &webhookRetentionJob{
		logg:      params.Logger,
		store:     params.Store,
		retention: retention,
		now:       time.Now,
	}, nil
}

type webhookRetentionJob struct {
	logg      *logger.Logger
	store     idempotencyPruner
	retention int
	now       func() time.Time
}

func (j *webhookRetentionJob) Name() string { return "webhook-retention" }

func (j *webhookRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("webhook retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "cron.webhook_keys_pruned")
	return nil
}
