package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/recapz-backend/internal/jobs"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

type jobReconciler interface {
	Sweep(ctx context.Context) (jobs.SweepResult, error)
	Audit(ctx context.Context) (jobs.AuditReport, error)
}

// ReconcileJobParams configures the reservation reconciler job.
type ReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler jobReconciler
}

// NewReconcileJob fails jobs stuck past their processing window, releasing
// their credits, and then audits held reservations against account balances.
// Audit findings are logged for an operator; they are never auto-corrected.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &reconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type reconcileJob struct {
	logg       *logger.Logger
	reconciler jobReconciler
}

func (j *reconcileJob) Name() string { return "job-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	swept, sweepErr := j.reconciler.Sweep(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"examined": swept.Examined,
		"failed":   swept.Failed,
	}), "cron.jobs_swept")

	report, err := j.reconciler.Audit(ctx)
	if err != nil {
		if sweepErr != nil {
			return fmt.Errorf("sweep: %v; audit: %w", sweepErr, err)
		}
		return fmt.Errorf("audit: %w", err)
	}
	for _, id := range report.Leaked {
		j.logg.Warn(j.logg.WithJobID(ctx, id.String()), "cron.reservation_leaked")
	}
	for _, drift := range report.Drift {
		j.logg.Warn(j.logg.WithFields(j.logg.WithAccountID(ctx, drift.AccountID.String()), map[string]any{
			"credits_reserved": drift.Reserved,
			"credits_held":     drift.Held,
		}), "cron.reservation_drift")
	}
	if sweepErr != nil {
		return fmt.Errorf("sweep: %w", sweepErr)
	}
	return nil
}
