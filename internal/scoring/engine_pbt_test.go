package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

func TestCostScoreBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("cost score stays within [0,1] for any inputs", prop.ForAll(
		func(totalCost, amount float64) bool {
			score := CostScore(totalCost, amount)
			return score >= 0 && score <= 1
		},
		gen.Float64Range(-1e9, 1e9),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("cost score is monotonically non-increasing in total cost", prop.ForAll(
		func(amount, extra float64) bool {
			base := CostScore(amount, amount)
			worse := CostScore(amount+extra, amount)
			return worse <= base
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(0, 1e6),
	))

	properties.TestingRun(t)
}

func TestPreferenceScoreBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("preference score stays within (0,1] under decay", prop.ForAll(
		func(stored float64, daysAgo int) bool {
			lastUsed := time.Now().UTC().AddDate(0, 0, -daysAgo)
			prefs := &models.UserPreferences{
				PreferredMethods: []models.MethodPreference{
					{MethodType: types.MethodStablecoinUSDC, Score: stored, LastUsed: &lastUsed},
				},
			}
			score := PreferenceScore(prefs, types.MethodStablecoinUSDC, time.Now().UTC())
			return score > 0 && score <= 1
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 3650),
	))

	properties.Property("decay never drops below the floor fraction of the stored score", prop.ForAll(
		func(daysAgo int) bool {
			lastUsed := time.Now().UTC().AddDate(0, 0, -daysAgo)
			prefs := &models.UserPreferences{
				PreferredMethods: []models.MethodPreference{
					{MethodType: types.MethodStablecoinUSDC, Score: 1.0, LastUsed: &lastUsed},
				},
			}
			score := PreferenceScore(prefs, types.MethodStablecoinUSDC, time.Now().UTC())
			return score >= decayFloor
		},
		gen.IntRange(0, 3650),
	))

	properties.TestingRun(t)
}

func TestRankInvariantsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ranking is sorted descending with dense priorities", prop.ForAll(
		func(amount, usdcTotal, nativeTotal, fiatTotal, balance float64) bool {
			estimator := &stubEstimator{
				estimates: map[types.MethodType]*models.CostEstimate{
					types.MethodStablecoinUSDC: {BaseCost: amount, TotalCost: usdcTotal, Currency: "USD", Confidence: 0.9},
					types.MethodNativeToken:    {BaseCost: amount, TotalCost: nativeTotal, Currency: "USD", Confidence: 0.7},
					types.MethodFiatCard:       {BaseCost: amount, TotalCost: fiatTotal, Currency: "USD", Confidence: 0.95},
				},
			}
			engine := NewEngine(estimator, NewAvailabilityChecker(), nil, DefaultWeights())

			pctx := &models.PaymentContext{
				UserID:    "u1",
				Chain:     types.ChainEthereum,
				AmountUSD: amount,
				Balances: []models.WalletBalance{
					{Chain: types.ChainEthereum, Symbol: "USDC", BalanceUSD: balance},
					{Chain: types.ChainEthereum, Symbol: "ETH", BalanceUSD: balance / 2},
				},
				Preferences: &models.UserPreferences{},
				Market:      testMarket(),
			}

			result, err := engine.Rank(context.Background(), testCandidates(), pctx)
			if err != nil {
				return false
			}
			for i, m := range result.Methods {
				if m.Priority != i+1 {
					return false
				}
				if m.Scores.TotalScore < 0 || m.Scores.TotalScore > 1 {
					return false
				}
				if i > 0 && m.Scores.TotalScore > result.Methods[i-1].Scores.TotalScore {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0.01, 1e6),
		gen.Float64Range(0, 2e6),
		gen.Float64Range(0, 2e6),
		gen.Float64Range(0, 2e6),
		gen.Float64Range(0, 1e7),
	))

	properties.TestingRun(t)
}
