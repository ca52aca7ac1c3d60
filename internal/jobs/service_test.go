package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
)

type failingQueue struct{ err error }

func (q failingQueue) Publish(ctx context.Context, msg JobMessage) error { return q.err }

func (q failingQueue) Consume(ctx context.Context, handler Handler) error { return q.err }

func TestSubmitReservesAndQueues(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)

	job, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: " short "})
	require.NoError(t, err)

	assert.Equal(t, "short", job.VideoID)
	assert.Equal(t, "Short", job.VideoTitle)
	assert.Equal(t, 290, job.DurationSeconds)
	assert.Equal(t, 5, job.CreditsNeeded)
	assert.Equal(t, enums.JobStatusQueued, job.Status)
	assert.Equal(t, enums.ReservationHeld, job.ReservationState)
	assert.Equal(t, 5, h.account(t, account.ID).CreditsReserved)
	assert.Equal(t, 1, h.queue.Len())
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)

	_, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "  "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.service.Submit(context.Background(), SubmitInput{VideoID: "short"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	assert.Equal(t, int32(0), h.metadata.calls.Load())
}

func TestSubmitDeniedWithoutHeadroom(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 56)

	_, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits))

	after := h.account(t, account.ID)
	assert.Equal(t, 56, after.CreditsUsed)
	assert.Equal(t, 0, after.CreditsReserved)
	assert.Equal(t, int64(0), h.count(t, &models.Job{}))
	assert.Equal(t, 0, h.queue.Len())
}

func TestSubmitExactHeadroomAllowed(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 55)

	_, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.NoError(t, err)
	assert.Equal(t, 5, h.account(t, account.ID).CreditsReserved)
}

func TestSubmitCanceledBeforeReservation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.service.Submit(ctx, SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.account(t, account.ID).CreditsReserved)
	assert.Equal(t, int64(0), h.count(t, &models.Job{}))
}

func TestSubmitUnknownVideo(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)

	_, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "missing"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 0, h.account(t, account.ID).CreditsReserved)
}

func TestSubmitCachesMetadata(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)

	for i := 0; i < 3; i++ {
		_, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.metadata.calls.Load())
	assert.Equal(t, 15, h.account(t, account.ID).CreditsReserved)
}

func TestSubmitPublishFailureReleases(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)
	service := h.serviceWithQueue(t, failingQueue{err: errors.New("broker unavailable")})

	_, err := service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Contains(t, err.Error(), "not charged")

	var stored models.Job
	require.NoError(t, h.conn.First(&stored).Error)
	assert.Equal(t, enums.JobStatusFailed, stored.Status)
	assert.Equal(t, enums.ReservationReleased, stored.ReservationState)
	assert.Equal(t, 0, h.account(t, account.ID).CreditsReserved)
}

func TestSubmitCreateFailureReservesNothing(t *testing.T) {
	h := newHarness(t, harnessOptions{
		failures: &injectedFailures{create: []error{&pgconn.PgError{Code: "23502", Message: "null value in column"}}},
	})
	account := h.seedAccount(t, 0)

	_, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Contains(t, err.Error(), "not charged")
	assert.Equal(t, 0, h.account(t, account.ID).CreditsReserved)
	assert.Equal(t, int64(0), h.count(t, &models.Job{}))
}

func TestSubmitRetriesLockedCreate(t *testing.T) {
	h := newHarness(t, harnessOptions{
		failures: &injectedFailures{create: []error{errors.New("database is locked")}},
	})
	account := h.seedAccount(t, 0)

	job, err := h.service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationHeld, h.job(t, job.ID).ReservationState)
	// The first attempt's reservation rolled back with its transaction.
	assert.Equal(t, 5, h.account(t, account.ID).CreditsReserved)
	assert.Equal(t, int64(1), h.count(t, &models.Job{}))
}

func TestSubmitFullQueueReleases(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)
	queue := NewMemoryQueue(MemoryQueueOptions{Buffer: 1, PublishTimeout: 10 * time.Millisecond})
	service := h.serviceWithQueue(t, queue)

	_, err := service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.NoError(t, err)
	_, err = service.Submit(context.Background(), SubmitInput{AccountID: account.ID, VideoID: "short"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.True(t, errors.Is(err, ErrQueueFull))

	assert.Equal(t, 5, h.account(t, account.ID).CreditsReserved)
	var failed models.Job
	require.NoError(t, h.conn.Where("status = ?", enums.JobStatusFailed).First(&failed).Error)
	assert.Equal(t, enums.ReservationReleased, failed.ReservationState)
}

func TestGetAndListScopedToAccount(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	owner := h.seedAccount(t, 0)
	other := h.seedAccount(t, 0)
	ctx := context.Background()

	job, err := h.service.Submit(ctx, SubmitInput{AccountID: owner.ID, VideoID: "short"})
	require.NoError(t, err)
	_, err = h.service.Submit(ctx, SubmitInput{AccountID: owner.ID, VideoID: "long"})
	require.Error(t, err, "60 more credits exceed the free limit")

	got, err := h.service.Get(ctx, owner.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = h.service.Get(ctx, other.ID, job.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	list, err := h.service.List(ctx, owner.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = h.service.List(ctx, other.ID, 500)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteSummaryKeepsUsage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	account := h.seedAccount(t, 0)
	ctx := context.Background()
	job := submitAndProcess(t, h, account, "short")
	require.NotNil(t, job.SummaryID)

	require.NoError(t, h.service.DeleteSummary(ctx, account.ID, *job.SummaryID))

	assert.Equal(t, int64(0), h.count(t, &models.Summary{}))
	assert.Equal(t, int64(0), h.count(t, &models.SummarySegment{}))
	assert.Equal(t, int64(0), h.count(t, &models.SummaryTakeaway{}))

	var usage models.UsageRecord
	require.NoError(t, h.conn.First(&usage, "job_id = ?", job.ID).Error)
	assert.Nil(t, usage.SummaryID)
	assert.Equal(t, 5, usage.Credits)

	stored := h.job(t, job.ID)
	assert.Nil(t, stored.SummaryID)
	assert.Equal(t, enums.JobStatusCompleted, stored.Status)
	assert.Equal(t, 5, h.account(t, account.ID).CreditsUsed)

	err := h.service.DeleteSummary(ctx, account.ID, *job.SummaryID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteSummaryRejectsOtherAccount(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	owner := h.seedAccount(t, 0)
	other := h.seedAccount(t, 0)
	job := submitAndProcess(t, h, owner, "short")

	err := h.service.DeleteSummary(context.Background(), other.ID, *job.SummaryID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, int64(1), h.count(t, &models.Summary{}))

	_, err = h.service.Summary(context.Background(), other.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
