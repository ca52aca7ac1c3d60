package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/cache"
	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/internal/transcripts"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// MetadataSource prices a video before work starts.
type MetadataSource interface {
	Metadata(ctx context.Context, videoID string) (transcripts.Metadata, error)
}

// SubmitInput is a request to summarize a video.
type SubmitInput struct {
	AccountID uuid.UUID
	VideoID   string
}

// ServiceParams groups dependencies for the jobs service.
type ServiceParams struct {
	DB              txRunner
	Repo            Repository
	Ledger          *credits.Ledger
	Executor        *resilience.Executor
	Loader          *cache.Loader
	Metadata        MetadataSource
	Queue           Queue
	MetadataTimeout time.Duration
	Metrics         *metrics.PipelineMetrics
	Logger          *logger.Logger
	Now             func() time.Time
}

// Service accepts submissions and serves job and summary reads.
type Service struct {
	db              txRunner
	repo            Repository
	ledger          *credits.Ledger
	executor        *resilience.Executor
	loader          *cache.Loader
	metadata        MetadataSource
	queue           Queue
	metadataTimeout time.Duration
	logg            *logger.Logger
	now             func() time.Time
	failer          failer
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db is required")
	case params.Repo == nil:
		return nil, errors.New("repo is required")
	case params.Ledger == nil:
		return nil, errors.New("ledger is required")
	case params.Executor == nil:
		return nil, errors.New("executor is required")
	case params.Loader == nil:
		return nil, errors.New("cache loader is required")
	case params.Metadata == nil:
		return nil, errors.New("metadata source is required")
	case params.Queue == nil:
		return nil, errors.New("queue is required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		db:              params.DB,
		repo:            params.Repo,
		ledger:          params.Ledger,
		executor:        params.Executor,
		loader:          params.Loader,
		metadata:        params.Metadata,
		queue:           params.Queue,
		metadataTimeout: params.MetadataTimeout,
		logg:            params.Logger,
		now:             params.Now,
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

// Submit prices the video, reserves credits and queues the job. A request
// canceled before the reservation is abandoned; after it the job always
// reaches a terminal state.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*models.Job, error) {
	videoID := strings.TrimSpace(input.VideoID)
	if videoID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "video_id is required")
	}
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id": input.AccountID.String(),
		"video_id":   videoID,
	})

	meta, err := s.videoMetadata(ctx, videoID)
	if err != nil {
		return nil, resilience.AsAPIError(err)
	}
	amount := credits.CreditsForDuration(meta.DurationSeconds)

	if err := ctx.Err(); err != nil {
		s.logg.Info(ctx, "jobs.submit_abandoned")
		return nil, err
	}
	job := &models.Job{
		AccountID:       input.AccountID,
		VideoID:         videoID,
		VideoTitle:      meta.Title,
		DurationSeconds: meta.DurationSeconds,
		CreditsNeeded:   amount,
		QueuedAt:        s.now().UTC(),
	}
	if err := s.reserveAndCreate(ctx, job); err != nil {
		return nil, err
	}

	// The reservation is held from here on; finish regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	msg := JobMessage{JobID: job.ID, AccountID: job.AccountID, EnqueuedAt: job.QueuedAt}
	if err := s.queue.Publish(ctx, msg); err != nil {
		if _, failErr := s.failer.fail(ctx, job, err); failErr != nil {
			s.logg.Error(ctx, "jobs.fail_after_publish_failed", failErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not queue job; you were not charged")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"job_id":  job.ID.String(),
		"credits": amount,
	}), "jobs.submitted")
	return job, nil
}

// reserveAndCreate holds the credits and records the job in one
// transaction, retried on transient datastore errors. Either both land or
// neither does.
func (s *Service) reserveAndCreate(ctx context.Context, job *models.Job) error {
	_, err := resilience.Execute(ctx, s.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.db.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.ledger.WithTx(tx).Reserve(ctx, job.AccountID, job.CreditsNeeded); err != nil {
				return err
			}
			if err := s.repo.WithTx(tx).Create(ctx, job); err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			return nil
		})
	}, resilience.WithOperation("jobs.reserve"), resilience.WithClassifier(resilience.DatastoreClassifier))
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not create job; you were not charged")
}

func (s *Service) videoMetadata(ctx context.Context, videoID string) (transcripts.Metadata, error) {
	key := cache.Key(cache.NamespaceMetadata, videoID)
	meta, _, err := cache.GetOrCompute(ctx, s.loader, key, 0, func(ctx context.Context) (transcripts.Metadata, error) {
		res, err := resilience.Execute(ctx, s.executor, func(ctx context.Context) (transcripts.Metadata, error) {
			return s.metadata.Metadata(ctx, videoID)
		}, resilience.WithOperation("transcripts.metadata"), resilience.WithAttemptTimeout(s.metadataTimeout))
		return res.Value, err
	})
	return meta, err
}

// Get returns one of the account's jobs.
func (s *Service) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.repo.FindForAccount(ctx, accountID, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

// List returns the account's most recent jobs.
func (s *Service) List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	jobs, err := s.repo.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Summary returns a produced summary with its segments and takeaways.
func (s *Service) Summary(ctx context.Context, accountID, summaryID uuid.UUID) (*models.Summary, error) {
	summary, err := s.repo.FindSummary(ctx, accountID, summaryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "summary not found")
		}
		return nil, fmt.Errorf("load summary: %w", err)
	}
	return summary, nil
}

// DeleteSummary removes the artifact. The usage record stays, so deleting
// never refunds credits.
func (s *Service) DeleteSummary(ctx context.Context, accountID, summaryID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindSummary(ctx, accountID, summaryID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "summary not found")
			}
			return fmt.Errorf("load summary: %w", err)
		}
		if err := repo.DetachUsage(ctx, summaryID); err != nil {
			return fmt.Errorf("detach usage: %w", err)
		}
		if err := repo.DeleteSummaryArtifacts(ctx, summaryID); err != nil {
			return fmt.Errorf("delete summary: %w", err)
		}
		s.logg.Info(s.logg.WithField(ctx, "summary_id", summaryID.String()), "jobs.summary_deleted")
		return nil
	})
}
