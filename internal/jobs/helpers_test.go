package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/cache"
	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/resilience"
	"github.com/angelmondragon/recapz-backend/internal/summarizer"
	"github.com/angelmondragon/recapz-backend/internal/transcripts"
	"github.com/angelmondragon/recapz-backend/pkg/db"
	"github.com/angelmondragon/recapz-backend/pkg/db/dbtest"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
)

type fakeMetadata struct {
	videos map[string]transcripts.Metadata
	calls  atomic.Int32
}

func (f *fakeMetadata) Metadata(ctx context.Context, videoID string) (transcripts.Metadata, error) {
	f.calls.Add(1)
	meta, ok := f.videos[videoID]
	if !ok {
		return transcripts.Metadata{}, &resilience.StatusError{Operation: "transcripts.metadata", StatusCode: 404}
	}
	return meta, nil
}

func (f *fakeMetadata) Transcript(ctx context.Context, videoID string) (transcripts.Transcript, error) {
	return transcripts.Transcript{
		VideoID: videoID,
		Lines:   []transcripts.Line{{StartSeconds: 0, Text: "intro to " + videoID}, {StartSeconds: 60, Text: "details"}},
	}, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(model string) (summarizer.Summary, error)
}

func newFakeGenerator(fn func(model string) (summarizer.Summary, error)) *fakeGenerator {
	return &fakeGenerator{calls: map[string]int{}, fn: fn}
}

func (f *fakeGenerator) Generate(ctx context.Context, req summarizer.Request) (summarizer.Summary, error) {
	f.mu.Lock()
	f.calls[req.Model]++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req.Model)
	}
	return okSummary(req.Model), nil
}

func (f *fakeGenerator) count(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func okSummary(model string) summarizer.Summary {
	return summarizer.Summary{
		Model:    model,
		Title:    "A video",
		Overview: "overview",
		Segments: []summarizer.Segment{
			{StartSeconds: 0, EndSeconds: 60, Heading: "Intro", Body: "intro"},
			{StartSeconds: 60, EndSeconds: 120, Heading: "Details", Body: "details"},
		},
		Takeaways: []string{"one", "two"},
	}
}

type injectedFailures struct {
	mu       sync.Mutex
	complete []error
	fail     []error
	claim    []error
	create   []error
}

func (f *injectedFailures) next(queue *[]error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// flakyRepo fails writes with the queued errors, then behaves normally.
type flakyRepo struct {
	Repository
	failures *injectedFailures
}

func (f *flakyRepo) WithTx(tx *gorm.DB) Repository {
	return &flakyRepo{Repository: f.Repository.WithTx(tx), failures: f.failures}
}

func (f *flakyRepo) Complete(ctx context.Context, id, summaryID uuid.UUID, now time.Time) (bool, error) {
	if err := f.failures.next(&f.failures.complete); err != nil {
		return false, err
	}
	return f.Repository.Complete(ctx, id, summaryID, now)
}

func (f *flakyRepo) Fail(ctx context.Context, id uuid.UUID, failure Failure, now time.Time) (bool, error) {
	if err := f.failures.next(&f.failures.fail); err != nil {
		return false, err
	}
	return f.Repository.Fail(ctx, id, failure, now)
}

func (f *flakyRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if err := f.failures.next(&f.failures.claim); err != nil {
		return false, err
	}
	return f.Repository.Claim(ctx, id, now)
}

func (f *flakyRepo) Create(ctx context.Context, job *models.Job) error {
	if err := f.failures.next(&f.failures.create); err != nil {
		return err
	}
	return f.Repository.Create(ctx, job)
}

type harnessOptions struct {
	nonTransactional bool
	fallbacks        []string
	generator        *fakeGenerator
	failures         *injectedFailures
}

type harness struct {
	conn      *gorm.DB
	client    *db.Client
	loader    *cache.Loader
	repo      Repository
	ledger    *credits.Ledger
	executor  *resilience.Executor
	queue     *MemoryQueue
	metadata  *fakeMetadata
	generator *fakeGenerator
	service   *Service
	pipeline  *Pipeline
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	conn := dbtest.Open(t, "jobs")
	client := db.Wrap(conn)
	var repo Repository = NewRepository(conn)
	if opts.failures != nil {
		repo = &flakyRepo{Repository: repo, failures: opts.failures}
	}
	ledger, err := credits.NewLedger(credits.LedgerParams{Repo: credits.NewRepository(conn)})
	require.NoError(t, err)
	executor := resilience.NewExecutor(resilience.Options{
		Sleep:  func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		Random: func() float64 { return 0.5 },
	})
	loader := cache.NewLoader(cache.New(cache.Options{}))
	t.Cleanup(loader.Stop)
	metadata := &fakeMetadata{videos: map[string]transcripts.Metadata{
		"short": {VideoID: "short", Title: "Short", DurationSeconds: 290},
		"long":  {VideoID: "long", Title: "Long", DurationSeconds: 3600},
	}}
	generator := opts.generator
	if generator == nil {
		generator = newFakeGenerator(nil)
	}
	queue := NewMemoryQueue(MemoryQueueOptions{Buffer: 64})

	service, err := NewService(ServiceParams{
		DB:       client,
		Repo:     repo,
		Ledger:   ledger,
		Executor: executor,
		Loader:   loader,
		Metadata: metadata,
		Queue:    queue,
	})
	require.NoError(t, err)
	pipeline, err := NewPipeline(PipelineParams{
		DB:                   client,
		Repo:                 repo,
		Ledger:               ledger,
		Executor:             executor,
		Loader:               loader,
		Transcripts:          metadata,
		Generator:            generator,
		Model:                "primary",
		FallbackModels:       opts.fallbacks,
		PromptVersion:        "v1",
		TransactionalPersist: !opts.nonTransactional,
	})
	require.NoError(t, err)
	return &harness{
		conn:      conn,
		client:    client,
		loader:    loader,
		repo:      repo,
		ledger:    ledger,
		executor:  executor,
		queue:     queue,
		metadata:  metadata,
		generator: generator,
		service:   service,
		pipeline:  pipeline,
	}
}

// serviceWithQueue builds a second service over the same state.
func (h *harness) serviceWithQueue(t *testing.T, queue Queue) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		DB:       h.client,
		Repo:     h.repo,
		Ledger:   h.ledger,
		Executor: h.executor,
		Loader:   h.loader,
		Metadata: h.metadata,
		Queue:    queue,
	})
	require.NoError(t, err)
	return service
}

func (h *harness) seedAccount(t *testing.T, used int) *models.Account {
	t.Helper()
	account := &models.Account{Email: uuid.NewString() + "@example.com", CreditsUsed: used}
	require.NoError(t, h.conn.Create(account).Error)
	return account
}

func (h *harness) account(t *testing.T, id uuid.UUID) models.Account {
	t.Helper()
	var account models.Account
	require.NoError(t, h.conn.First(&account, "id = ?", id).Error)
	return account
}

func (h *harness) job(t *testing.T, id uuid.UUID) models.Job {
	t.Helper()
	var job models.Job
	require.NoError(t, h.conn.First(&job, "id = ?", id).Error)
	return job
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Count(&n).Error)
	return n
}

// seedHeldJob inserts a job that holds a reservation, reserving the credits.
func (h *harness) seedHeldJob(t *testing.T, account *models.Account, status enums.JobStatus, credits int) *models.Job {
	t.Helper()
	require.NoError(t, h.ledger.Reserve(context.Background(), account.ID, credits))
	job := &models.Job{AccountID: account.ID, VideoID: "short", Status: status, CreditsNeeded: credits}
	require.NoError(t, h.conn.Create(job).Error)
	return job
}

var errPermanent = pkgerrors.New(pkgerrors.CodeValidation, "constraint rejected the write")
