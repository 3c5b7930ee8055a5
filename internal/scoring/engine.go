package scoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// CostEstimator produces a cost estimate for one method under a market snapshot.
type CostEstimator interface {
	CalculateCost(ctx context.Context, method *models.PaymentMethod, market *models.MarketConditions, amountUSD float64) (*models.CostEstimate, error)
}

// PreferenceSource loads a user's payment method preferences.
type PreferenceSource interface {
	Preferences(ctx context.Context, userID string) (*models.UserPreferences, error)
}

// Weights holds the relative weight of each scoring component.
type Weights struct {
	Cost         float64
	Preference   float64
	Availability float64
	Network      float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Cost:         0.4,
		Preference:   0.3,
		Availability: 0.2,
		Network:      0.1,
	}
}

// Engine scores and ranks candidate payment methods. Ranking is a pure
// computation over the context snapshot: identical input produces identical
// output, and candidates are scored independently.
type Engine struct {
	estimator CostEstimator
	checker   *AvailabilityChecker
	prefs     PreferenceSource
	weights   Weights
	logger    *logging.Logger
}

// NewEngine creates a new scoring engine
func NewEngine(estimator CostEstimator, checker *AvailabilityChecker, prefs PreferenceSource, weights Weights) *Engine {
	return &Engine{
		estimator: estimator,
		checker:   checker,
		prefs:     prefs,
		weights:   weights,
		logger:    logging.GetGlobalLogger().WithField("component", "scoring_engine"),
	}
}

// Prioritize builds the candidate list for the context and ranks it.
func (e *Engine) Prioritize(ctx context.Context, pctx *models.PaymentContext) (*models.PrioritizationResult, error) {
	if pctx == nil {
		return nil, apperrors.NewValidationError("context", "payment context is required")
	}

	methods := e.checker.AvailableMethods(pctx)
	return e.Rank(ctx, methods, pctx)
}

// Rank scores every candidate and returns them sorted by descending total
// score with priority forming the dense sequence 1..N. An empty candidate
// list yields an empty result, not an error. A failing candidate is
// excluded with a warning; the rest of the pass continues.
func (e *Engine) Rank(ctx context.Context, methods []models.PaymentMethod, pctx *models.PaymentContext) (*models.PrioritizationResult, error) {
	result := &models.PrioritizationResult{
		Methods:     []models.PrioritizedPaymentMethod{},
		GeneratedAt: time.Now().UTC(),
	}

	if len(methods) == 0 {
		return result, nil
	}

	if pctx == nil {
		return nil, apperrors.NewValidationError("context", "payment context is required")
	}
	if pctx.Market == nil {
		return nil, apperrors.NewValidationError("market", "market conditions are required")
	}
	if pctx.AmountUSD <= 0 {
		return nil, apperrors.NewInvalidAmountError(pctx.AmountUSD)
	}

	prefs := pctx.Preferences
	if prefs == nil && e.prefs != nil {
		loaded, err := e.prefs.Preferences(ctx, pctx.UserID)
		if err != nil {
			e.logger.WithError(err).Warn("Preferences unavailable, scoring with defaults")
			result.Warnings = append(result.Warnings, "preferences unavailable, using defaults")
		} else {
			prefs = loaded
		}
	}

	now := time.Now().UTC()

	for i := range methods {
		method := methods[i]

		estimate, err := e.estimator.CalculateCost(ctx, &method, pctx.Market, pctx.AmountUSD)
		if err != nil {
			e.logger.WithMethod(string(method.Type)).WithError(err).Warn("Candidate excluded from ranking")
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s excluded: cost estimation failed", method.Type))
			continue
		}

		availScore, availStatus := AvailabilityScore(&method, pctx, estimate.GasFee)

		components := models.ScoringComponents{
			CostScore:                CostScore(estimate.TotalCost, pctx.AmountUSD),
			PreferenceScore:          PreferenceScore(prefs, method.Type, now),
			AvailabilityScore:        availScore,
			StablecoinBonus:          StablecoinBonus(method.Type, estimate),
			NetworkOptimizationScore: NetworkScore(&method, pctx.Market),
		}
		components.TotalScore = clamp01(
			e.weights.Cost*components.CostScore +
				e.weights.Preference*components.PreferenceScore +
				e.weights.Availability*components.AvailabilityScore +
				e.weights.Network*components.NetworkOptimizationScore +
				components.StablecoinBonus,
		)

		result.Methods = append(result.Methods, models.PrioritizedPaymentMethod{
			Method:               method,
			Scores:               components,
			AvailabilityStatus:   availStatus,
			Estimate:             estimate,
			RecommendationReason: e.reason(components),
			Warnings:             e.warnings(&method, estimate, availStatus, pctx.Market),
			Benefits:             e.benefits(&method, estimate),
		})
	}

	// Stable sort keeps input order on ties
	sort.SliceStable(result.Methods, func(i, j int) bool {
		return result.Methods[i].Scores.TotalScore > result.Methods[j].Scores.TotalScore
	})
	for i := range result.Methods {
		result.Methods[i].Priority = i + 1
	}

	e.logger.WithFields(map[string]interface{}{
		"candidates": len(methods),
		"ranked":     len(result.Methods),
		"amountUsd":  pctx.AmountUSD,
	}).Debug("Prioritization pass complete")

	return result, nil
}

// reason names the component that contributed most to the total score.
func (e *Engine) reason(c models.ScoringComponents) string {
	best := "lowest overall cost"
	bestValue := e.weights.Cost * c.CostScore

	if v := e.weights.Preference * c.PreferenceScore; v > bestValue {
		best, bestValue = "matches your payment history", v
	}
	if v := e.weights.Availability * c.AvailabilityScore; v > bestValue {
		best, bestValue = "ready to use with your current balance", v
	}
	if v := e.weights.Network * c.NetworkOptimizationScore; v > bestValue {
		best, bestValue = "favorable network conditions", v
	}
	if c.StablecoinBonus > bestValue {
		best = "stable value and predictable fees"
	}

	return best
}

func (e *Engine) warnings(method *models.PaymentMethod, estimate *models.CostEstimate, status types.AvailabilityStatus, market *models.MarketConditions) []string {
	var warnings []string

	if estimate.Degraded {
		warnings = append(warnings, "cost estimate is approximate due to degraded market data")
	}

	switch status {
	case types.AvailabilityWrongNetwork:
		warnings = append(warnings, fmt.Sprintf("requires switching to the %s network", *method.Chain))
	case types.AvailabilityInsufficientBalance:
		warnings = append(warnings, "balance may not cover the amount plus gas")
	case types.AvailabilityNoBalance:
		warnings = append(warnings, "no balance available for this method")
	}

	if method.Chain != nil {
		if gas, ok := market.GasFor(*method.Chain); ok && gas.Congestion == types.CongestionHigh {
			warnings = append(warnings, "network congestion is high, settlement may be slow")
		}
	}

	return warnings
}

func (e *Engine) benefits(method *models.PaymentMethod, estimate *models.CostEstimate) []string {
	var benefits []string

	if method.Type.IsStablecoin() {
		benefits = append(benefits, "price-stable settlement")
	}
	if method.Type.IsCrypto() && estimate.GasFee < 5 {
		benefits = append(benefits, "low gas cost")
	}
	if method.Type.IsFiat() {
		benefits = append(benefits, "no wallet or gas required")
	}

	return benefits
}
