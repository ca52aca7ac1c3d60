package billing

import (
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/recapz-backend/pkg/config"
	"github.com/angelmondragon/recapz-backend/pkg/enums"
)

const tierMetadataKey = "tier"

// Catalog maps Stripe prices to tiers.
type Catalog struct {
	byPrice map[string]enums.Tier
}

// NewCatalog builds the price lookup from the configured price ids.
func NewCatalog(cfg config.StripeConfig) Catalog {
	byPrice := map[string]enums.Tier{}
	for price, tier := range map[string]enums.Tier{
		cfg.BasicPriceID:      enums.TierBasic,
		cfg.ProPriceID:        enums.TierPro,
		cfg.EnterprisePriceID: enums.TierEnterprise,
	} {
		if price = strings.TrimSpace(price); price != "" {
			byPrice[price] = tier
		}
	}
	return Catalog{byPrice: byPrice}
}

// TierFor resolves the subscription's tier from its first priced item, then
// from the tier metadata key. ok is false when neither is recognised.
func (c Catalog) TierFor(sub *stripe.Subscription) (enums.Tier, bool) {
	if sub == nil {
		return "", false
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if tier, ok := c.byPrice[item.Price.ID]; ok {
				return tier, true
			}
		}
	}
	if tier, err := enums.ParseTier(sub.Metadata[tierMetadataKey]); err == nil {
		return tier, true
	}
	return "", false
}

// StatusFor maps a Stripe subscription status onto an account status.
func StatusFor(status stripe.SubscriptionStatus) enums.AccountStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.AccountStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.AccountStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.AccountStatusCanceled
	default:
		return enums.AccountStatusInactive
	}
}
