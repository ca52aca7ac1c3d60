package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

// Job is one unit of summarization work and the owner of one credit
// reservation.
type Job struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	AccountID        uuid.UUID              `gorm:"column:account_id;type:uuid;not null;index"`
	VideoID          string                 `gorm:"column:video_id;not null"`
	VideoTitle       string                 `gorm:"column:video_title;not null;default:''"`
	DurationSeconds  int                    `gorm:"column:duration_seconds;not null;default:0"`
	Status           enums.JobStatus        `gorm:"column:status;type:text;not null;index"`
	CreditsNeeded    int                    `gorm:"column:credits_needed;not null"`
	ReservationState enums.ReservationState `gorm:"column:reservation_state;type:text;not null"`
	Attempts         int                    `gorm:"column:attempts;not null;default:0"`
	ErrorClass       *string                `gorm:"column:error_class"`
	ErrorMessage     *string                `gorm:"column:error_message"`
	SummaryID        *uuid.UUID             `gorm:"column:summary_id;type:uuid"`
	QueuedAt         time.Time              `gorm:"column:queued_at;not null"`
	StartedAt        *time.Time             `gorm:"column:started_at"`
	FinishedAt       *time.Time             `gorm:"column:finished_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = enums.JobStatusQueued
	}
	if j.ReservationState == "" {
		j.ReservationState = enums.ReservationHeld
	}
	if j.QueuedAt.IsZero() {
		j.QueuedAt = time.Now().UTC()
	}
	return nil
}
