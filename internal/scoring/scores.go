// Package scoring ranks candidate payment methods for a purchase context.
package scoring

import (
	"time"

	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// Preference score constants. An avoided method scores avoidedScore no
// matter what history exists.
const (
	avoidedScore      = 0.1
	decayFloor        = 0.3
	decayWindowDays   = 30.0
	stablecoinDefault = 0.8
	stablecoinNeutral = 0.6
	fiatDefault       = 0.9
	fiatNeutral       = 0.7
	unknownDefault    = 0.5
)

// CostScore maps the cost ratio totalCost/amount onto a step function.
// Lower ratios score higher. A non-positive amount scores zero.
func CostScore(totalCost, amount float64) float64 {
	if amount <= 0 {
		return 0
	}

	r := totalCost / amount
	switch {
	case r <= 1.005:
		return 1.0
	case r <= 1.01:
		return 0.95
	case r <= 1.02:
		return 0.85
	case r <= 1.03:
		return 0.75
	case r <= 1.05:
		return 0.60
	case r <= 1.10:
		return 0.40
	case r <= 1.15:
		return 0.25
	case r <= 1.20:
		return 0.15
	default:
		return 0.05
	}
}

// PreferenceScore turns a user's method history into a score. Avoided
// methods score 0.1 unconditionally. A stored preference decays linearly
// with days since last use down to a 0.3 floor. Without history the score
// falls back to per-type defaults steered by the user's flags.
func PreferenceScore(prefs *models.UserPreferences, methodType types.MethodType, now time.Time) float64 {
	if prefs == nil {
		return defaultPreference(nil, methodType)
	}

	if prefs.Avoids(methodType) {
		return avoidedScore
	}

	if entry, ok := prefs.PreferenceFor(methodType); ok {
		decay := decayFloor
		if entry.LastUsed != nil {
			days := now.Sub(*entry.LastUsed).Hours() / 24
			decay = 1 - days/decayWindowDays
			if decay < decayFloor {
				decay = decayFloor
			}
		}
		return entry.Score * decay
	}

	return defaultPreference(prefs, methodType)
}

func defaultPreference(prefs *models.UserPreferences, methodType types.MethodType) float64 {
	switch {
	case methodType.IsStablecoin():
		if prefs != nil && prefs.PreferStablecoins {
			return stablecoinDefault
		}
		return stablecoinNeutral
	case methodType.IsFiat():
		if prefs != nil && prefs.PreferFiat {
			return fiatDefault
		}
		return fiatNeutral
	default:
		return unknownDefault
	}
}

// StablecoinBonus is the additive bonus stablecoins earn: a 0.15 base,
// plus 0.05 for cheap gas and 0.03 for a high-confidence estimate.
// Non-stablecoins earn exactly zero.
func StablecoinBonus(methodType types.MethodType, estimate *models.CostEstimate) float64 {
	if !methodType.IsStablecoin() {
		return 0
	}

	bonus := 0.15
	if estimate != nil {
		if estimate.GasFee < 5 {
			bonus += 0.05
		}
		if estimate.Confidence > 0.8 {
			bonus += 0.03
		}
	}
	return bonus
}

// NetworkScore rates the method's settlement network. Fiat has no network
// dependency and always scores 1.0. Crypto methods score by congestion with
// block time adjustments, clamped to [0,1].
func NetworkScore(method *models.PaymentMethod, market *models.MarketConditions) float64 {
	if method.Type.IsFiat() || method.Chain == nil {
		return 1.0
	}

	gas, ok := market.GasFor(*method.Chain)
	if !ok {
		// No snapshot data for the chain, assume medium load
		return 0.7
	}

	var score float64
	switch gas.Congestion {
	case types.CongestionLow:
		score = 1.0
	case types.CongestionMedium:
		score = 0.7
	case types.CongestionHigh:
		score = 0.3
	default:
		score = 0.7
	}

	if gas.BlockTimeSeconds < 5 {
		score += 0.1
	}
	if gas.BlockTimeSeconds > 30 {
		score -= 0.1
	}

	return clamp01(score)
}

// AvailabilityScore rates whether the buyer can actually pay with the
// method right now. Fiat always scores 1.0. Chain-bound methods are
// penalized for a chain mismatch, missing balance, or a balance short of
// amount plus gas, where a short balance earns proportional partial credit.
func AvailabilityScore(method *models.PaymentMethod, pctx *models.PaymentContext, gasFee float64) (float64, types.AvailabilityStatus) {
	if method.Type.IsFiat() {
		return 1.0, types.AvailabilityAvailable
	}

	if method.Chain == nil {
		return 0.1, types.AvailabilityUnavailable
	}

	if *method.Chain != pctx.Chain {
		return 0.2, types.AvailabilityWrongNetwork
	}

	symbol := method.Type.TokenSymbol(*method.Chain)
	balance, ok := pctx.BalanceFor(*method.Chain, symbol)
	if !ok || balance.BalanceUSD <= 0 {
		return 0.1, types.AvailabilityNoBalance
	}

	required := pctx.AmountUSD + gasFee
	if required > 0 && balance.BalanceUSD < required {
		score := (balance.BalanceUSD / required) * 0.5
		if score < 0.1 {
			score = 0.1
		}
		return score, types.AvailabilityInsufficientBalance
	}

	return 1.0, types.AvailabilityAvailable
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
