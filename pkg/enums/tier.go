package enums

import "fmt"

// Tier is the subscription plan that determines an account's monthly credit limit.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierCreditLimits = map[Tier]int{
	TierFree:       60,
	TierBasic:      300,
	TierPro:        1200,
	TierEnterprise: 6000,
}

var validTiers = []Tier{
	TierFree,
	TierBasic,
	TierPro,
	TierEnterprise,
}

// String implements fmt.Stringer.
func (t Tier) String() string {
	return string(t)
}

// IsValid reports whether the value is a known Tier.
func (t Tier) IsValid() bool {
	_, ok := tierCreditLimits[t]
	return ok
}

// Paid reports whether the tier is billed through Stripe.
func (t Tier) Paid() bool {
	return t.IsValid() && t != TierFree
}

// CreditLimit returns the monthly credits granted by the tier. Unknown tiers
// get the free allowance.
func (t Tier) CreditLimit() int {
	if limit, ok := tierCreditLimits[t]; ok {
		return limit
	}
	return tierCreditLimits[TierFree]
}

// ParseTier converts raw input into a Tier.
func ParseTier(value string) (Tier, error) {
	for _, candidate := range validTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tier %q", value)
}
