package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

// Repository persists jobs, their summaries and usage records. State changes
// are conditional updates that report whether the row moved.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.Job) error
	Find(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.Job, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Job, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Advance(ctx context.Context, id uuid.UUID, from, to enums.JobStatus) (bool, error)
	Complete(ctx context.Context, id, summaryID uuid.UUID, now time.Time) (bool, error)
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, failure Failure, now time.Time) (bool, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	ListLeaked(ctx context.Context, limit int) ([]models.Job, error)
	HeldByAccount(ctx context.Context) (map[uuid.UUID]int, error)

	CreateSummary(ctx context.Context, summary *models.Summary) error
	DeleteSummaryArtifacts(ctx context.Context, summaryID uuid.UUID) error
	FindSummary(ctx context.Context, accountID, id uuid.UUID) (*models.Summary, error)
	CreateUsage(ctx context.Context, record *models.UsageRecord) error
	DeleteUsage(ctx context.Context, jobID uuid.UUID) error
	DetachUsage(ctx context.Context, summaryID uuid.UUID) error
}

// Failure is the error recorded on a failed job.
type Failure struct {
	Class   string
	Message string
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindForAccount(ctx context.Context, accountID, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("queued_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Claim moves a queued job to transcribing and counts the attempt. Only one
// worker wins.
func (r *repository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, enums.JobStatusQueued).
		Updates(map[string]any{
			"status":     enums.JobStatusTranscribing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Advance(ctx context.Context, id uuid.UUID, from, to enums.JobStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// Complete settles a held reservation as consumed.
func (r *repository) Complete(ctx context.Context, id, summaryID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ? AND reservation_state = ?", id, enums.JobStatusSummarizing, enums.ReservationHeld).
		Updates(map[string]any{
			"status":            enums.JobStatusCompleted,
			"reservation_state": enums.ReservationConsumed,
			"summary_id":        summaryID,
			"finished_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

// Reopen undoes Complete while the consume has not happened yet.
func (r *repository) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ? AND reservation_state = ?", id, enums.JobStatusCompleted, enums.ReservationConsumed).
		Updates(map[string]any{
			"status":            enums.JobStatusSummarizing,
			"reservation_state": enums.ReservationHeld,
			"summary_id":        nil,
			"finished_at":       nil,
		})
	return res.RowsAffected == 1, res.Error
}

// Fail flips a held reservation to released and marks the job failed. It
// reports false when the reservation was already settled, which makes the
// caller's release exactly-once.
func (r *repository) Fail(ctx context.Context, id uuid.UUID, failure Failure, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND reservation_state = ?", id, enums.ReservationHeld).
		Updates(map[string]any{
			"status":            enums.JobStatusFailed,
			"reservation_state": enums.ReservationReleased,
			"error_class":       failure.Class,
			"error_message":     failure.Message,
			"finished_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", enums.ActiveJobStatuses, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ListLeaked returns terminal jobs that still hold a reservation.
func (r *repository) ListLeaked(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ? AND reservation_state = ?",
			[]enums.JobStatus{enums.JobStatusCompleted, enums.JobStatusFailed}, enums.ReservationHeld).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// HeldByAccount sums held reservations per account.
func (r *repository) HeldByAccount(ctx context.Context) (map[uuid.UUID]int, error) {
	var rows []struct {
		AccountID uuid.UUID
		Held      int
	}
	err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("account_id, SUM(credits_needed) AS held").
		Where("reservation_state = ?", enums.ReservationHeld).
		Group("account_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		out[row.AccountID] = row.Held
	}
	return out, nil
}

func (r *repository) CreateSummary(ctx context.Context, summary *models.Summary) error {
	return r.db.WithContext(ctx).Create(summary).Error
}

// DeleteSummaryArtifacts removes a summary and its derived rows.
func (r *repository) DeleteSummaryArtifacts(ctx context.Context, summaryID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("summary_id = ?", summaryID).Delete(&models.SummarySegment{}).Error; err != nil {
		return err
	}
	if err := db.Where("summary_id = ?", summaryID).Delete(&models.SummaryTakeaway{}).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Job{}).Where("summary_id = ?", summaryID).Update("summary_id", nil).Error; err != nil {
		return err
	}
	return db.Where("id = ?", summaryID).Delete(&models.Summary{}).Error
}

func (r *repository) FindSummary(ctx context.Context, accountID, id uuid.UUID) (*models.Summary, error) {
	var summary models.Summary
	err := r.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Takeaways", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *repository) CreateUsage(ctx context.Context, record *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) DeleteUsage(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&models.UsageRecord{}).Error
}

// DetachUsage keeps the charge line when its summary goes away.
func (r *repository) DetachUsage(ctx context.Context, summaryID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("summary_id = ?", summaryID).
		Update("summary_id", nil).Error
}
