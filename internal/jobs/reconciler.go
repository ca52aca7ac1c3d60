package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

const reconcileBatch = 200

// ReconcilerParams groups dependencies for the reconciler.
type ReconcilerParams struct {
	DB         txRunner
	Conn       *gorm.DB
	Repo       Repository
	Ledger     *credits.Ledger
	Executor   *resilience.Executor
	StaleAfter time.Duration
	Metrics    *metrics.PipelineMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Reconciler finds reservations nobody will resolve and resolves them.
type Reconciler struct {
	conn       *gorm.DB
	repo       Repository
	staleAfter time.Duration
	logg       *logger.Logger
	now        func() time.Time
	failer     failer
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db is required")
	case params.Conn == nil:
		return nil, errors.New("connection is required")
	case params.Repo == nil:
		return nil, errors.New("repo is required")
	case params.Ledger == nil:
		return nil, errors.New("ledger is required")
	case params.Executor == nil:
		return nil, errors.New("executor is required")
	case params.StaleAfter <= 0:
		return nil, errors.New("stale window must be positive")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Reconciler{
		conn:       params.Conn,
		repo:       params.Repo,
		staleAfter: params.StaleAfter,
		logg:       params.Logger,
		now:        params.Now,
		failer: failer{
			db:       params.DB,
			repo:     params.Repo,
			ledger:   params.Ledger,
			executor: params.Executor,
			metrics:  params.Metrics,
			logg:     params.Logger,
			now:      params.Now,
		},
	}, nil
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Examined int
	Failed   int
}

// Sweep force-fails jobs that have not moved for the stale window.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := r.now().UTC().Add(-r.staleAfter)
	stale, err := r.repo.ListStale(ctx, cutoff, reconcileBatch)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list stale jobs: %w", err)
	}
	result := SweepResult{Examined: len(stale)}
	var errs error
	for i := range stale {
		job := &stale[i]
		released, err := r.failer.fail(ctx, job, staleCause(job.ID))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if released {
			result.Failed++
		}
	}
	if result.Failed > 0 {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"examined": result.Examined,
			"failed":   result.Failed,
		}), "jobs.reconcile_swept")
	}
	return result, errs
}

// Drift is a mismatch between an account's reserved balance and the sum of
// its held job reservations.
type Drift struct {
	AccountID uuid.UUID `json:"account_id"`
	Reserved  int       `json:"credits_reserved"`
	Held      int       `json:"credits_held"`
}

// AuditReport lists reservation leaks.
type AuditReport struct {
	Leaked []uuid.UUID `json:"leaked_jobs"`
	Drift  []Drift     `json:"drift"`
}

// Clean reports whether the audit found nothing.
func (a AuditReport) Clean() bool {
	return len(a.Leaked) == 0 && len(a.Drift) == 0
}

// Audit reports terminal jobs still holding credits and accounts whose
// reserved balance disagrees with their held jobs.
func (r *Reconciler) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	leaked, err := r.repo.ListLeaked(ctx, reconcileBatch)
	if err != nil {
		return report, fmt.Errorf("list leaked jobs: %w", err)
	}
	for _, job := range leaked {
		report.Leaked = append(report.Leaked, job.ID)
	}

	held, err := r.repo.HeldByAccount(ctx)
	if err != nil {
		return report, fmt.Errorf("sum held reservations: %w", err)
	}
	var accounts []models.Account
	if err := r.conn.WithContext(ctx).
		Select("id", "credits_reserved").
		Where("credits_reserved > 0").
		Find(&accounts).Error; err != nil {
		return report, fmt.Errorf("load reserved accounts: %w", err)
	}
	seen := make(map[uuid.UUID]bool, len(accounts))
	for _, account := range accounts {
		seen[account.ID] = true
		if account.CreditsReserved != held[account.ID] {
			report.Drift = append(report.Drift, Drift{AccountID: account.ID, Reserved: account.CreditsReserved, Held: held[account.ID]})
		}
	}
	for accountID, amount := range held {
		if !seen[accountID] {
			report.Drift = append(report.Drift, Drift{AccountID: accountID, Held: amount})
		}
	}

	if !report.Clean() {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"leaked": len(report.Leaked),
			"drift":  len(report.Drift),
		}), "jobs.reconcile_audit_findings")
	}
	return report, nil
}
