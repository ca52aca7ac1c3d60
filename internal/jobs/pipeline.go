package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/cache"
	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/internal/summarizer"
	"github.com/angelmondragon/recapz-backend/internal/transcripts"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

// TranscriptSource fetches the timed transcript of a video.
type TranscriptSource interface {
	Transcript(ctx context.Context, videoID string) (transcripts.Transcript, error)
}

// Generator produces a summary with a given model.
type Generator interface {
	Generate(ctx context.Context, req summarizer.Request) (summarizer.Summary, error)
}

var errReservationSettled = pkgerrors.New(pkgerrors.CodeStateConflict, "job reservation already settled")

// PipelineParams groups dependencies for the pipeline.
type PipelineParams struct {
	DB                   txRunner
	Repo                 Repository
	Ledger               *credits.Ledger
	Executor             *resilience.Executor
	Loader               *cache.Loader
	Transcripts          TranscriptSource
	Generator            Generator
	Model                string
	FallbackModels       []string
	PromptVersion        string
	TransactionalPersist bool
	TranscriptTimeout    time.Duration
	SummaryTimeout       time.Duration
	Metrics              *metrics.PipelineMetrics
	Logger               *logger.Logger
	Now                  func() time.Time
}

// Pipeline drives a queued job through transcription, summarization and
// the persist-and-consume step.
type Pipeline struct {
	db                txRunner
	repo              Repository
	ledger            *credits.Ledger
	executor          *resilience.Executor
	loader            *cache.Loader
	transcripts       TranscriptSource
	generator         Generator
	model             string
	fallbackModels    []string
	promptVersion     string
	transactional     bool
	transcriptTimeout time.Duration
	summaryTimeout    time.Duration
	metrics           *metrics.PipelineMetrics
	logg              *logger.Logger
	now               func() time.Time
	failer            failer
}

func NewPipeline(params PipelineParams) (*Pipeline, error) {
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
	case params.Transcripts == nil:
		return nil, errors.New("transcript source is required")
	case params.Generator == nil:
		return nil, errors.New("generator is required")
	case params.Model == "":
		return nil, errors.New("model is required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	p := &Pipeline{
		db:                params.DB,
		repo:              params.Repo,
		ledger:            params.Ledger,
		executor:          params.Executor,
		loader:            params.Loader,
		transcripts:       params.Transcripts,
		generator:         params.Generator,
		model:             params.Model,
		fallbackModels:    params.FallbackModels,
		promptVersion:     params.PromptVersion,
		transactional:     params.TransactionalPersist,
		transcriptTimeout: params.TranscriptTimeout,
		summaryTimeout:    params.SummaryTimeout,
		metrics:           params.Metrics,
		logg:              params.Logger,
		now:               params.Now,
	}
	p.failer = failer{
		db:       params.DB,
		repo:     params.Repo,
		ledger:   params.Ledger,
		executor: params.Executor,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      params.Now,
	}
	return p, nil
}

// Process runs one job to a terminal state. It returns nil once the job is
// completed or failed; an error means the job could not be picked up and the
// delivery should be retried.
func (p *Pipeline) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = p.logg.WithJobID(ctx, jobID.String())

	job, err := p.repo.Find(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.logg.Warn(ctx, "jobs.not_found")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}

	claimed, err := p.transition(ctx, "jobs.claim", func(ctx context.Context) (bool, error) {
		return p.repo.Claim(ctx, job.ID, p.now().UTC())
	})
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		// Another delivery owns it; stragglers are failed by the reconciler.
		p.logg.Info(p.logg.WithField(ctx, "status", job.Status.String()), "jobs.already_claimed")
		return nil
	}
	ctx = p.logg.WithAccountID(ctx, job.AccountID.String())

	var (
		completed bool
		cause     error
	)
	defer func() {
		if r := recover(); r != nil {
			cause = fmt.Errorf("pipeline panic: %v", r)
			err = cause
		}
		if !completed {
			if cause == nil {
				cause = context.Cause(ctx)
			}
			if _, failErr := p.failer.fail(ctx, job, cause); failErr != nil {
				err = failErr
			}
		}
	}()

	transcript, err := p.transcript(ctx, job)
	if err != nil {
		cause = err
		return nil
	}

	advanced, err := p.transition(ctx, "jobs.advance", func(ctx context.Context) (bool, error) {
		return p.repo.Advance(ctx, job.ID, enums.JobStatusTranscribing, enums.JobStatusSummarizing)
	})
	if err != nil || !advanced {
		cause = errors.Join(errReservationSettled, err)
		return nil
	}

	summary, err := p.summarize(ctx, job, transcript)
	if err != nil {
		cause = err
		return nil
	}

	if err := p.persist(ctx, job, transcript, summary); err != nil {
		cause = err
		return nil
	}
	completed = true
	return nil
}

// transition runs a conditional status update, retrying transient
// datastore errors.
func (p *Pipeline) transition(ctx context.Context, op string, update resilience.Operation[bool]) (bool, error) {
	res, err := resilience.Execute(ctx, p.executor, update,
		resilience.WithOperation(op), resilience.WithClassifier(resilience.DatastoreClassifier))
	return res.Value, err
}

func (p *Pipeline) transcript(ctx context.Context, job *models.Job) (transcripts.Transcript, error) {
	start := p.now()
	defer func() { p.metrics.ObserveStage("transcribe", p.now().Sub(start)) }()

	key := cache.Key(cache.NamespaceTranscript, job.VideoID)
	transcript, cached, err := cache.GetOrCompute(ctx, p.loader, key, 0, func(ctx context.Context) (transcripts.Transcript, error) {
		res, err := resilience.Execute(ctx, p.executor, func(ctx context.Context) (transcripts.Transcript, error) {
			return p.transcripts.Transcript(ctx, job.VideoID)
		}, resilience.WithOperation("transcripts.fetch"), resilience.WithAttemptTimeout(p.transcriptTimeout))
		return res.Value, err
	})
	if err != nil {
		return transcripts.Transcript{}, err
	}
	p.logg.Info(p.logg.WithField(ctx, "cached", cached), "jobs.transcribed")
	return transcript, nil
}

type summaryKey struct {
	TranscriptHash string   `json:"transcript_hash"`
	Models         []string `json:"models"`
	PromptVersion  string   `json:"prompt_version"`
}

func (p *Pipeline) summarize(ctx context.Context, job *models.Job, transcript transcripts.Transcript) (summarizer.Summary, error) {
	start := p.now()
	defer func() { p.metrics.ObserveStage("summarize", p.now().Sub(start)) }()

	key, err := cache.ContentKey(cache.NamespaceSummary, summaryKey{
		TranscriptHash: contentHash(transcript.Text()),
		Models:         append([]string{p.model}, p.fallbackModels...),
		PromptVersion:  p.promptVersion,
	})
	if err != nil {
		return summarizer.Summary{}, err
	}

	generate := func(model string) resilience.Operation[summarizer.Summary] {
		return func(ctx context.Context) (summarizer.Summary, error) {
			return p.generator.Generate(ctx, summarizer.Request{
				Model:         model,
				Title:         job.VideoTitle,
				PromptVersion: p.promptVersion,
				Transcript:    transcript,
			})
		}
	}
	summary, cached, err := cache.GetOrCompute(ctx, p.loader, key, 0, func(ctx context.Context) (summarizer.Summary, error) {
		fallbacks := make([]resilience.Fallback[summarizer.Summary], 0, len(p.fallbackModels))
		for i, model := range p.fallbackModels {
			fallbacks = append(fallbacks, resilience.Fallback[summarizer.Summary]{Name: model, Priority: i + 1, Call: generate(model)})
		}
		res, err := resilience.ExecuteWithFallbacks(ctx, p.executor,
			resilience.Fallback[summarizer.Summary]{Name: p.model, Call: generate(p.model)},
			fallbacks,
			resilience.WithOperation("summarizer.generate"),
			resilience.WithAttemptTimeout(p.summaryTimeout),
		)
		return res.Value, err
	})
	if err != nil {
		return summarizer.Summary{}, err
	}
	p.logg.Info(p.logg.WithFields(ctx, map[string]any{"cached": cached, "model": summary.Model}), "jobs.summarized")
	return summary, nil
}

// persist writes the artifact and usage line, settles the job and consumes
// the credits. Each attempt is a fresh transaction, or in non-transactional
// mode a compensated sequence of commits.
func (p *Pipeline) persist(ctx context.Context, job *models.Job, transcript transcripts.Transcript, summary summarizer.Summary) error {
	start := p.now()
	defer func() { p.metrics.ObserveStage("persist", p.now().Sub(start)) }()

	_, err := resilience.Execute(ctx, p.executor, func(ctx context.Context) (struct{}, error) {
		if p.transactional {
			return struct{}{}, p.db.WithTx(ctx, func(tx *gorm.DB) error {
				steps := p.persistSteps(p.repo.WithTx(tx), p.ledger.WithTx(tx), job, transcript, summary, false)
				return compensator{logg: p.logg}.run(ctx, steps)
			})
		}
		steps := p.persistSteps(p.repo, p.ledger, job, transcript, summary, true)
		return struct{}{}, compensator{logg: p.logg}.run(ctx, steps)
	}, resilience.WithOperation("jobs.persist"), resilience.WithClassifier(resilience.DatastoreClassifier))
	if err != nil {
		return err
	}

	p.metrics.IncFinished("completed", "")
	p.logg.Info(p.logg.WithField(ctx, "credits", job.CreditsNeeded), "jobs.completed")
	return nil
}

func (p *Pipeline) persistSteps(repo Repository, ledger *credits.Ledger, job *models.Job, transcript transcripts.Transcript, summary summarizer.Summary, withUndo bool) []step {
	artifact := buildSummary(job, transcript, summary)
	summaryID := artifact.ID
	steps := []step{
		{
			name:  "summary",
			apply: func(ctx context.Context) error { return repo.CreateSummary(ctx, artifact) },
			undo:  func(ctx context.Context) error { return repo.DeleteSummaryArtifacts(ctx, summaryID) },
		},
		{
			name: "usage",
			apply: func(ctx context.Context) error {
				return repo.CreateUsage(ctx, &models.UsageRecord{
					AccountID: job.AccountID,
					JobID:     job.ID,
					Action:    enums.UsageActionSummaryGenerated,
					Credits:   job.CreditsNeeded,
					SummaryID: &summaryID,
				})
			},
			undo: func(ctx context.Context) error { return repo.DeleteUsage(ctx, job.ID) },
		},
		{
			name: "complete",
			apply: func(ctx context.Context) error {
				ok, err := repo.Complete(ctx, job.ID, summaryID, p.now().UTC())
				if err != nil {
					return err
				}
				if !ok {
					return errReservationSettled
				}
				return nil
			},
			undo: func(ctx context.Context) error {
				_, err := repo.Reopen(ctx, job.ID)
				return err
			},
		},
		{
			name:  "consume",
			apply: func(ctx context.Context) error { return ledger.Consume(ctx, job.AccountID, job.CreditsNeeded) },
		},
	}
	if !withUndo {
		for i := range steps {
			steps[i].undo = nil
		}
	}
	return steps
}

func buildSummary(job *models.Job, transcript transcripts.Transcript, summary summarizer.Summary) *models.Summary {
	title := summary.Title
	if title == "" {
		title = job.VideoTitle
	}
	artifact := &models.Summary{
		ID:          uuid.New(),
		AccountID:   job.AccountID,
		JobID:       job.ID,
		VideoID:     job.VideoID,
		Title:       title,
		Model:       summary.Model,
		Content:     summary.Overview,
		ContentHash: contentHash(transcript.Text()),
	}
	for i, seg := range summary.Segments {
		artifact.Segments = append(artifact.Segments, models.SummarySegment{
			Position:     i,
			StartSeconds: seg.StartSeconds,
			EndSeconds:   seg.EndSeconds,
			Heading:      seg.Heading,
			Body:         seg.Body,
		})
	}
	for i, text := range summary.Takeaways {
		artifact.Takeaways = append(artifact.Takeaways, models.SummaryTakeaway{Position: i, Text: text})
	}
	return artifact
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
