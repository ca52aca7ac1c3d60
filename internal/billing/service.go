package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/recapz-backend/internal/credits"
	"github.com/angelmondragon/recapz-backend/internal/idempotency"
	"github.com/angelmondragon/recapz-backend/pkg/db/models"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

const (
	provider           = "stripe"
	accountMetadataKey = "account_id"
)

// SubscriptionFetcher loads a subscription referenced by an invoice event.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Outcome describes what HandleEvent did with an event.
type Outcome struct {
	Key       string
	Duplicate bool
	Ignored   bool
	AccountID uuid.UUID
	Tier      enums.Tier
	Status    enums.AccountStatus
}

// ServiceParams groups dependencies for the billing webhook service. Exactly
// one of DBClaims and RedisClaims is used; DBClaims wins when both are set.
type ServiceParams struct {
	Ledger            *credits.Ledger
	DBClaims          *idempotency.DBStore
	RedisClaims       *idempotency.RedisStore
	Stripe            SubscriptionFetcher
	Catalog           Catalog
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service applies Stripe subscription lifecycle events to account plans.
type Service struct {
	ledger      *credits.Ledger
	dbClaims    *idempotency.DBStore
	redisClaims *idempotency.RedisStore
	stripe      SubscriptionFetcher
	catalog     Catalog
	txRunner    txRunner
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if params.DBClaims == nil && params.RedisClaims == nil {
		return nil, errors.New("idempotency store is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		ledger:      params.Ledger,
		dbClaims:    params.DBClaims,
		redisClaims: params.RedisClaims,
		stripe:      params.Stripe,
		catalog:     params.Catalog,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// HandleEvent claims the event and applies the resulting plan change in one
// transaction. A replayed event reports Duplicate and changes nothing.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil || strings.TrimSpace(event.ID) == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	outcome := Outcome{Key: idempotency.EventKey(provider, string(event.Type), event.ID)}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	sub, customerID, err := s.subscriptionFor(ctx, event)
	if err != nil {
		return outcome, err
	}
	if sub == nil {
		outcome.Ignored = true
		return outcome, nil
	}

	if s.dbClaims == nil {
		claim, err := s.redisClaims.Claim(ctx, outcome.Key)
		if err != nil {
			return outcome, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim event")
		}
		if claim.AlreadyProcessed {
			outcome.Duplicate = true
			s.logg.Info(ctx, "billing.event_duplicate")
			return outcome, nil
		}
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if s.dbClaims != nil {
			claim, err := s.dbClaims.WithTx(tx).Claim(ctx, outcome.Key)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim event")
			}
			if claim.AlreadyProcessed {
				outcome.Duplicate = true
				return nil
			}
		}

		ledger := s.ledger.WithTx(tx)
		account, err := s.resolveAccount(ctx, ledger, sub, customerID)
		if err != nil {
			return err
		}
		change := s.planChange(account, sub, customerID)
		if err := ledger.ApplyPlan(ctx, change); err != nil {
			return err
		}
		outcome.AccountID, outcome.Tier, outcome.Status = change.AccountID, change.Tier, change.Status
		return nil
	})
	if err != nil {
		if s.dbClaims == nil {
			if forgetErr := s.redisClaims.Forget(ctx, outcome.Key); forgetErr != nil {
				s.logg.Error(ctx, "billing.claim_forget_failed", forgetErr)
			}
		}
		return outcome, err
	}
	if outcome.Duplicate {
		s.logg.Info(ctx, "billing.event_duplicate")
	}
	return outcome, nil
}

func (s *Service) subscriptionFor(ctx context.Context, event *stripe.Event) (*stripe.Subscription, string, error) {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			sub.Status = stripe.SubscriptionStatusCanceled
		}
		return &sub, customerOf(&sub), nil
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		subscriptionID := inv.subscriptionID()
		if subscriptionID == "" {
			// One-off invoices carry no plan.
			return nil, "", nil
		}
		if s.stripe == nil {
			return nil, "", pkgerrors.New(pkgerrors.CodeDependency, "stripe client unavailable")
		}
		sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		if sub == nil {
			return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "stripe subscription not found")
		}
		customerID := customerOf(sub)
		if customerID == "" {
			customerID = rawID(inv.Customer)
		}
		return sub, customerID, nil
	default:
		return nil, "", nil
	}
}

func (s *Service) resolveAccount(ctx context.Context, ledger *credits.Ledger, sub *stripe.Subscription, customerID string) (*models.Account, error) {
	if raw := strings.TrimSpace(sub.Metadata[accountMetadataKey]); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account_id metadata")
		}
		return ledger.Account(ctx, id)
	}
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription has no account reference")
	}
	return ledger.FindByStripeCustomer(ctx, customerID)
}

func (s *Service) planChange(account *models.Account, sub *stripe.Subscription, customerID string) credits.PlanChange {
	status := StatusFor(sub.Status)
	tier, ok := s.catalog.TierFor(sub)
	if !ok {
		tier = account.Tier
	}
	if status == enums.AccountStatusCanceled {
		tier = enums.TierFree
	}
	change := credits.PlanChange{
		AccountID: account.ID,
		Tier:      tier,
		Status:    status,
	}
	if customerID != "" {
		change.StripeCustomerID = &customerID
	}
	if sub.ID != "" {
		subID := sub.ID
		change.StripeSubscriptionID = &subID
	}
	return change
}

func customerOf(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

// invoicePayload decodes the invoice fields used here. The subscription id
// moved under parent.subscription_details in newer API versions.
type invoicePayload struct {
	ID           string          `json:"id"`
	Customer     json.RawMessage `json:"customer"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p invoicePayload) subscriptionID() string {
	if id := rawID(p.Subscription); id != "" {
		return id
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return rawID(p.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// rawID reads an expandable Stripe field that is either an id string or an
// object with an id.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
