package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Summary is the artifact produced by a completed job.
type Summary struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID         `gorm:"column:account_id;type:uuid;not null;index"`
	JobID       uuid.UUID         `gorm:"column:job_id;type:uuid;not null;uniqueIndex"`
	VideoID     string            `gorm:"column:video_id;not null"`
	Title       string            `gorm:"column:title;not null;default:''"`
	Model       string            `gorm:"column:model;not null"`
	Content     string            `gorm:"column:content;type:text;not null"`
	ContentHash string            `gorm:"column:content_hash;not null"`
	Segments    []SummarySegment  `gorm:"foreignKey:SummaryID"`
	Takeaways   []SummaryTakeaway `gorm:"foreignKey:SummaryID"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (s *Summary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SummarySegment is a timestamped section of a summary.
type SummarySegment struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SummaryID    uuid.UUID `gorm:"column:summary_id;type:uuid;not null;index"`
	Position     int       `gorm:"column:position;not null"`
	StartSeconds int       `gorm:"column:start_seconds;not null;default:0"`
	EndSeconds   int       `gorm:"column:end_seconds;not null;default:0"`
	Heading      string    `gorm:"column:heading;not null;default:''"`
	Body         string    `gorm:"column:body;type:text;not null"`
}

func (s *SummarySegment) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SummaryTakeaway is a single key point extracted from a summary.
type SummaryTakeaway struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SummaryID uuid.UUID `gorm:"column:summary_id;type:uuid;not null;index"`
	Position  int       `gorm:"column:position;not null"`
	Text      string    `gorm:"column:text;type:text;not null"`
}

func (s *SummaryTakeaway) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
