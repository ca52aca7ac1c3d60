package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

const notCharged = "You were not charged."

// ClassCanceled marks jobs abandoned because their context ended.
const ClassCanceled = "canceled"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// failer is the single failure path for a job holding a reservation.
type failer struct {
	db       txRunner
	repo     Repository
	ledger   *credits.Ledger
	executor *resilience.Executor
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// fail marks the job failed and releases its credits. The conditional flip
// from held to released gates the release, so concurrent callers release at
// most once. released reports whether this call did it. Transient datastore
// errors retry the whole transaction.
func (f failer) fail(ctx context.Context, job *models.Job, cause error) (released bool, err error) {
	ctx = context.WithoutCancel(ctx)
	failure := describeFailure(cause)
	res, err := resilience.Execute(ctx, f.executor, func(ctx context.Context) (bool, error) {
		released := false
		err := f.db.WithTx(ctx, func(tx *gorm.DB) error {
			flipped, err := f.repo.WithTx(tx).Fail(ctx, job.ID, failure, f.now().UTC())
			if err != nil {
				return fmt.Errorf("mark job failed: %w", err)
			}
			if !flipped {
				return nil
			}
			if err := f.ledger.WithTx(tx).Release(ctx, job.AccountID, job.CreditsNeeded); err != nil {
				return err
			}
			released = true
			return nil
		})
		return released, err
	}, resilience.WithOperation("jobs.fail"), resilience.WithClassifier(resilience.DatastoreClassifier))
	released = res.Value
	if err != nil {
		f.logg.Error(f.logg.WithJobID(ctx, job.ID.String()), "jobs.fail_path_error", err)
		return false, err
	}
	if released {
		f.metrics.IncFinished("failed", failure.Class)
		f.logg.Warn(f.logg.WithFields(ctx, map[string]any{
			"job_id":      job.ID.String(),
			"account_id":  job.AccountID.String(),
			"error_class": failure.Class,
			"credits":     job.CreditsNeeded,
			"cause":       errString(cause),
		}), "jobs.failed")
	}
	return released, nil
}

func describeFailure(cause error) Failure {
	class := ClassCanceled
	if cause != nil && !errors.Is(cause, context.Canceled) {
		class = resilience.ClassOf(cause).String()
	}
	var msg string
	switch class {
	case ClassCanceled:
		msg = "Processing was interrupted."
	case resilience.ClassValidation.String():
		msg = "This video could not be processed."
	case resilience.ClassQuotaExceeded.String():
		msg = "The summarization provider is out of quota."
	case resilience.ClassRateLimit.String():
		msg = "The service is busy right now."
	case resilience.ClassTimeout.String():
		msg = "Processing timed out."
	case resilience.ClassAuthentication.String():
		msg = "A provider rejected our credentials."
	default:
		msg = "Processing failed."
	}
	return Failure{Class: class, Message: msg + " " + notCharged}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// errStale is the cause recorded when the reconciler force-fails a job.
var errStale = &resilience.ExecutionError{
	Operation: "jobs.reconcile",
	Class:     resilience.ClassTimeout,
	Err:       errors.New("job exceeded its processing window"),
}

func staleCause(id uuid.UUID) error {
	return fmt.Errorf("job %s: %w", id, errStale)
}
