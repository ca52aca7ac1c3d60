package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/cache"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

// Denial reasons reported by CanPerform.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonPastDue             = "subscription_past_due"
	ReasonInactive            = "account_inactive"
)

var secondsPerCredit = decimal.NewFromInt(60)

// CreditsForDuration charges one credit per started minute, minimum one.
func CreditsForDuration(seconds int) int {
	if seconds <= 0 {
		return 1
	}
	credits := decimal.NewFromInt(int64(seconds)).Div(secondsPerCredit).Ceil().IntPart()
	if credits < 1 {
		return 1
	}
	return int(credits)
}

// Balance is a point-in-time view of an account's credits.
type Balance struct {
	AccountID       uuid.UUID           `json:"account_id"`
	Tier            enums.Tier          `json:"tier"`
	Status          enums.AccountStatus `json:"status"`
	Used            int                 `json:"credits_used"`
	Reserved        int                 `json:"credits_reserved"`
	Limit           int                 `json:"credits_limit"`
	Available       int                 `json:"credits_available"`
	LastCreditReset *time.Time          `json:"last_credit_reset,omitempty"`
}

func balanceFrom(account *models.Account) Balance {
	return Balance{
		AccountID:       account.ID,
		Tier:            account.Tier,
		Status:          account.Status,
		Used:            account.CreditsUsed,
		Reserved:        account.CreditsReserved,
		Limit:           account.CreditsLimit,
		Available:       account.Available(),
		LastCreditReset: account.LastCreditReset,
	}
}

// Permission is the outcome of CanPerform.
type Permission struct {
	Allowed bool
	Reason  string
	Balance Balance
}

// LedgerParams groups dependencies for the ledger.
type LedgerParams struct {
	Repo    Repository
	Cache   *cache.Cache
	Logger  *logger.Logger
	Metrics *metrics.PipelineMetrics
	Now     func() time.Time
}

// Ledger meters credits against each account's monthly limit.
type Ledger struct {
	repo    Repository
	cache   *cache.Cache
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Ledger{
		repo:    params.Repo,
		cache:   params.Cache,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     params.Now,
	}, nil
}

// WithTx returns a ledger whose mutations join tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	clone := *l
	clone.repo = l.repo.WithTx(tx)
	return &clone
}

// CanPerform reports whether amount credits could be reserved right now.
func (l *Ledger) CanPerform(ctx context.Context, accountID uuid.UUID, amount int) (Permission, error) {
	account, err := l.loadAccount(ctx, accountID)
	if err != nil {
		return Permission{}, err
	}
	perm := Permission{Allowed: true, Balance: balanceFrom(account)}
	switch {
	case account.Tier.Paid() && account.Status == enums.AccountStatusPastDue:
		perm.Allowed, perm.Reason = false, ReasonPastDue
	case !account.Tier.Paid() && account.Status == enums.AccountStatusInactive:
		perm.Allowed, perm.Reason = false, ReasonInactive
	case account.CreditsUsed+account.CreditsReserved+amount > account.CreditsLimit:
		perm.Allowed, perm.Reason = false, ReasonInsufficientCredits
	}
	return perm, nil
}

// Reserve holds amount credits for a unit of work. A denied reservation
// leaves every balance untouched.
func (l *Ledger) Reserve(ctx context.Context, accountID uuid.UUID, amount int) error {
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	perm, err := l.CanPerform(ctx, accountID, amount)
	if err != nil {
		return err
	}
	if !perm.Allowed {
		return denialError(perm, amount)
	}

	ok, err := l.repo.Reserve(ctx, accountID, amount)
	if err != nil {
		return fmt.Errorf("reserve credits: %w", err)
	}
	l.invalidate(accountID)
	if !ok {
		// Another reservation won the remaining headroom between the check
		// and the guarded update.
		return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "not enough credits remaining this month").
			WithDetails(map[string]any{"credits_needed": amount})
	}

	l.metrics.AddCredits("reserve", amount)
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"credits":    amount,
	}), "credits.reserved")
	return nil
}

// Consume converts amount reserved credits into used credits.
func (l *Ledger) Consume(ctx context.Context, accountID uuid.UUID, amount int) error {
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	ok, err := l.repo.Consume(ctx, accountID, amount)
	if err != nil {
		return fmt.Errorf("consume credits: %w", err)
	}
	l.invalidate(accountID)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	l.metrics.AddCredits("consume", amount)
	return nil
}

// Release returns amount reserved credits.
func (l *Ledger) Release(ctx context.Context, accountID uuid.UUID, amount int) error {
	if amount <= 0 {
		return nil
	}
	ok, err := l.repo.Release(ctx, accountID, amount)
	if err != nil {
		return fmt.Errorf("release credits: %w", err)
	}
	l.invalidate(accountID)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	l.metrics.AddCredits("release", amount)
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"credits":    amount,
	}), "credits.released")
	return nil
}

// ResetMonthly zeroes credits_used for accounts not yet reset in the current
// UTC calendar month. Running it twice in a month is a no-op.
func (l *Ledger) ResetMonthly(ctx context.Context) (int64, error) {
	now := l.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	count, err := l.repo.ResetBefore(ctx, monthStart, now)
	if err != nil {
		return 0, fmt.Errorf("reset monthly credits: %w", err)
	}
	if count > 0 && l.cache != nil {
		l.cache.Invalidate(string(cache.NamespaceAccount))
	}
	l.logg.Info(l.logg.WithField(ctx, "accounts", count), "credits.monthly_reset")
	return count, nil
}

// Balance returns the account snapshot, served from the account namespace
// for a few seconds after a read.
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	key := cache.Key(cache.NamespaceAccount, accountID.String())
	if l.cache != nil {
		if cached, ok := cache.GetAs[Balance](l.cache, key); ok {
			return cached, nil
		}
	}
	account, err := l.loadAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	balance := balanceFrom(account)
	if l.cache != nil {
		l.cache.Set(key, balance, 0)
	}
	return balance, nil
}

// ApplyPlan records a billing driven tier/status change. The credit limit
// follows the tier.
func (l *Ledger) ApplyPlan(ctx context.Context, change PlanChange) error {
	if !change.Tier.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown tier %q", change.Tier))
	}
	if !change.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", change.Status))
	}
	ok, err := l.repo.UpdatePlan(ctx, change)
	if err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	l.invalidate(change.AccountID)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"account_id": change.AccountID.String(),
		"tier":       change.Tier.String(),
		"status":     change.Status.String(),
	}), "credits.plan_applied")
	return nil
}

// Account loads the account row, bypassing the balance cache.
func (l *Ledger) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	return l.loadAccount(ctx, accountID)
}

// FindByStripeCustomer resolves the account owning a Stripe customer.
func (l *Ledger) FindByStripeCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	account, err := l.repo.FindAccountByStripeCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, err
	}
	return account, nil
}

func (l *Ledger) loadAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := l.repo.FindAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

func (l *Ledger) invalidate(accountID uuid.UUID) {
	if l.cache != nil {
		l.cache.Delete(cache.Key(cache.NamespaceAccount, accountID.String()))
	}
}

func denialError(perm Permission, amount int) error {
	details := map[string]any{
		"reason":            perm.Reason,
		"credits_needed":    amount,
		"credits_available": perm.Balance.Available,
	}
	switch perm.Reason {
	case ReasonPastDue:
		return pkgerrors.New(pkgerrors.CodeForbidden, "subscription payment is past due").WithDetails(details)
	case ReasonInactive:
		return pkgerrors.New(pkgerrors.CodeForbidden, "account is inactive").WithDetails(details)
	default:
		return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "not enough credits remaining this month").WithDetails(details)
	}
}
