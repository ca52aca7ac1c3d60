package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/recapz-backend/pkg/db/models"
)

// DBStore claims keys by inserting into webhook_events. Used through WithTx
// the claim commits or rolls back with the mutation it guards.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *DBStore) WithTx(tx *gorm.DB) *DBStore {
	if tx == nil {
		return s
	}
	return &DBStore{db: tx}
}

func (s *DBStore) Claim(ctx context.Context, key string) (Claim, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Claim{}, ErrEmptyKey
	}
	provider, eventType, eventID := splitKey(key)
	event := &models.WebhookEvent{
		Key:             key,
		Provider:        provider,
		EventType:       eventType,
		ProviderEventID: eventID,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return Claim{}, fmt.Errorf("claim idempotency key: %w", res.Error)
	}
	return Claim{Key: key, AlreadyProcessed: res.RowsAffected == 0}, nil
}

// Prune deletes claims recorded before cutoff.
func (s *DBStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.WebhookEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune idempotency keys: %w", res.Error)
	}
	return res.RowsAffected, nil
}
