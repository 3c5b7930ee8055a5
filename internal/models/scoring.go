package models

import (
	"time"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// PaymentContext carries everything a prioritization pass needs to score a
// purchase. The snapshot fields are immutable inputs; scoring must not
// mutate them.
type PaymentContext struct {
	UserID      string            `json:"userId"`
	Chain       types.ChainID     `json:"chain"`
	AmountUSD   float64           `json:"amountUsd"`
	Balances    []WalletBalance   `json:"balances"`
	Preferences *UserPreferences  `json:"preferences,omitempty"`
	Market      *MarketConditions `json:"market"`
}

// BalanceFor returns the buyer's balance for a symbol on a chain.
func (c *PaymentContext) BalanceFor(chain types.ChainID, symbol string) (*WalletBalance, bool) {
	for i := range c.Balances {
		if c.Balances[i].Chain == chain && c.Balances[i].Symbol == symbol {
			return &c.Balances[i], true
		}
	}
	return nil, false
}

// ScoringComponents holds the sub-scores produced for one candidate method.
// All components are intended to lie in [0,1] except StablecoinBonus, which
// is additive.
type ScoringComponents struct {
	CostScore                float64 `json:"costScore"`
	PreferenceScore          float64 `json:"preferenceScore"`
	AvailabilityScore        float64 `json:"availabilityScore"`
	StablecoinBonus          float64 `json:"stablecoinBonus"`
	NetworkOptimizationScore float64 `json:"networkOptimizationScore"`
	TotalScore               float64 `json:"totalScore"`
}

// PrioritizedPaymentMethod is one ranked candidate. Created fresh each
// prioritization call and never cached across contexts.
type PrioritizedPaymentMethod struct {
	Method               PaymentMethod            `json:"method"`
	Scores               ScoringComponents        `json:"scores"`
	Priority             int                      `json:"priority"`
	AvailabilityStatus   types.AvailabilityStatus `json:"availabilityStatus"`
	Estimate             *CostEstimate            `json:"estimate,omitempty"`
	RecommendationReason string                   `json:"recommendationReason"`
	Warnings             []string                 `json:"warnings,omitempty"`
	Benefits             []string                 `json:"benefits,omitempty"`
}

// PrioritizationResult is the full ranked output for one context.
type PrioritizationResult struct {
	Methods     []PrioritizedPaymentMethod `json:"methods"`
	Warnings    []string                   `json:"warnings,omitempty"`
	GeneratedAt time.Time                  `json:"generatedAt"`
}
