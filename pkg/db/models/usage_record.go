package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

// UsageRecord is an append-only charge line. One record exists per consumed
// job; summary_id is nulled when the summary is deleted.
type UsageRecord struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	AccountID uuid.UUID         `gorm:"column:account_id;type:uuid;not null;index"`
	JobID     uuid.UUID         `gorm:"column:job_id;type:uuid;not null;uniqueIndex"`
	Action    enums.UsageAction `gorm:"column:action;type:text;not null"`
	Credits   int               `gorm:"column:credits;not null"`
	SummaryID *uuid.UUID        `gorm:"column:summary_id;type:uuid"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (u *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
