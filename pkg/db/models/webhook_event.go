package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent marks an external event as processed. The unique key is the
// idempotency guard for at-least-once delivery.
type WebhookEvent struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Key             string    `gorm:"column:key;not null;uniqueIndex"`
	Provider        string    `gorm:"column:provider;not null"`
	EventType       string    `gorm:"column:event_type;not null"`
	ProviderEventID string    `gorm:"column:provider_event_id;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (w *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
