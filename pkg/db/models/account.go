package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

// Account carries the credit balances metered against the monthly limit.
// credits_used + credits_reserved never exceeds credits_limit after a
// successful reservation.
type Account struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Email                string              `gorm:"column:email;not null;uniqueIndex"`
	Tier                 enums.Tier          `gorm:"column:tier;type:text;not null;default:'free'"`
	Status               enums.AccountStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreditsUsed          int                 `gorm:"column:credits_used;not null;default:0"`
	CreditsReserved      int                 `gorm:"column:credits_reserved;not null;default:0"`
	CreditsLimit         int                 `gorm:"column:credits_limit;not null"`
	LastCreditReset      *time.Time          `gorm:"column:last_credit_reset"`
	StripeCustomerID     *string             `gorm:"column:stripe_customer_id;uniqueIndex"`
	StripeSubscriptionID *string             `gorm:"column:stripe_subscription_id"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the id and derives the limit from the tier.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Tier == "" {
		a.Tier = enums.TierFree
	}
	if a.Status == "" {
		a.Status = enums.AccountStatusActive
	}
	if a.CreditsLimit == 0 {
		a.CreditsLimit = a.Tier.CreditLimit()
	}
	return nil
}

// Available returns the credits that can still be reserved.
func (a Account) Available() int {
	remaining := a.CreditsLimit - a.CreditsUsed - a.CreditsReserved
	if remaining < 0 {
		return 0
	}
	return remaining
}
