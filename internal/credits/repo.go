package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

// Repository persists account balances. Every balance mutation is a single
// guarded UPDATE so concurrent callers never interleave a read and a write.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindAccountByStripeCustomer(ctx context.Context, customerID string) (*models.Account, error)
	Reserve(ctx context.Context, id uuid.UUID, amount int) (bool, error)
	Consume(ctx context.Context, id uuid.UUID, amount int) (bool, error)
	Release(ctx context.Context, id uuid.UUID, amount int) (bool, error)
	ResetBefore(ctx context.Context, cutoff, now time.Time) (int64, error)
	UpdatePlan(ctx context.Context, change PlanChange) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountByStripeCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Reserve adds amount to credits_reserved only while the result stays within
// credits_limit. The check and the increment are one statement; the row lock
// held for its duration is the per-account critical section.
func (r *repository) Reserve(ctx context.Context, id uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND credits_used + credits_reserved + ? <= credits_limit", id, amount).
		Update("credits_reserved", gorm.Expr("credits_reserved + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Consume moves amount from reserved to used, flooring reserved at zero.
func (r *repository) Consume(ctx context.Context, id uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"credits_used":     gorm.Expr("credits_used + ?", amount),
			"credits_reserved": gorm.Expr("CASE WHEN credits_reserved >= ? THEN credits_reserved - ? ELSE 0 END", amount, amount),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release returns amount from reserved, flooring at zero.
func (r *repository) Release(ctx context.Context, id uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("credits_reserved", gorm.Expr("CASE WHEN credits_reserved >= ? THEN credits_reserved - ? ELSE 0 END", amount, amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ResetBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("last_credit_reset IS NULL OR last_credit_reset < ?", cutoff).
		Updates(map[string]any{
			"credits_used":      0,
			"last_credit_reset": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) UpdatePlan(ctx context.Context, change PlanChange) (bool, error) {
	updates := map[string]any{
		"tier":          change.Tier,
		"status":        change.Status,
		"credits_limit": change.Tier.CreditLimit(),
	}
	if change.StripeCustomerID != nil {
		updates["stripe_customer_id"] = *change.StripeCustomerID
	}
	if change.StripeSubscriptionID != nil {
		updates["stripe_subscription_id"] = *change.StripeSubscriptionID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", change.AccountID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PlanChange is a billing driven tier/status update. Used and reserved
// balances are never touched by it.
type PlanChange struct {
	AccountID            uuid.UUID
	Tier                 enums.Tier
	Status               enums.AccountStatus
	StripeCustomerID     *string
	StripeSubscriptionID *string
}
