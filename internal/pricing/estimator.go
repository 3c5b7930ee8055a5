// Package pricing estimates the all-in cost of paying with a given method
// under a market snapshot. Estimates are pure reads of the snapshot: the
// estimator never fetches market data itself, so a missing or degraded
// snapshot entry surfaces here as a conservative fallback estimate.
package pricing

import (
	"context"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

const (
	// Card processor pricing: 2.9% + $0.30 per charge.
	fiatFeeRate     = 0.029
	fiatFeeFixedUSD = 0.30
	fiatConfidence  = 0.95

	// Conversion spreads applied to the settled amount. Stablecoins carry a
	// token-level on/off ramp spread; native tokens pay the full swap spread.
	stablecoinSpreadRate = 0.001
	nativeSpreadRate     = 0.005

	// degradedConfidence caps the confidence of any estimate built on
	// fallback data instead of a live snapshot entry.
	degradedConfidence = 0.3

	// defaultFallbackGasUSD prices gas for a chain with no configured
	// fallback. Deliberately pessimistic.
	defaultFallbackGasUSD = 5.0
)

// Estimator prices payment methods against a market snapshot.
type Estimator struct {
	fallbackGas map[types.ChainID]float64
}

// NewEstimator creates an estimator with the configured per-chain gas
// fallbacks.
func NewEstimator(cfg *config.Config) *Estimator {
	fallback := make(map[types.ChainID]float64, len(cfg.Chains.Enabled))
	for _, name := range cfg.Chains.Enabled {
		fallback[types.ChainID(name)] = cfg.Chains.Chains[name].FallbackGasUSD
	}
	return &Estimator{fallbackGas: fallback}
}

// CalculateCost estimates the total cost of paying amountUSD with the given
// method. Missing chain data never fails the estimate: it produces a
// degraded one with confidence capped at 0.3 so scoring can still rank the
// method on conservative numbers.
func (e *Estimator) CalculateCost(ctx context.Context, method *models.PaymentMethod, market *models.MarketConditions, amountUSD float64) (*models.CostEstimate, error) {
	if amountUSD <= 0 {
		return nil, apperrors.NewInvalidAmountError(amountUSD)
	}

	if method.Type.IsFiat() {
		return e.fiatEstimate(amountUSD), nil
	}

	if method.Chain == nil {
		return nil, apperrors.NewValidationError("chain", "on-chain methods require a chain")
	}

	return e.cryptoEstimate(method, market, amountUSD)
}

func (e *Estimator) fiatEstimate(amountUSD float64) *models.CostEstimate {
	fee := amountUSD*fiatFeeRate + fiatFeeFixedUSD
	return &models.CostEstimate{
		BaseCost:     amountUSD,
		GasFee:       0,
		ProcessorFee: fee,
		TotalCost:    amountUSD + fee,
		Currency:     "USD",
		Confidence:   fiatConfidence,
	}
}

func (e *Estimator) cryptoEstimate(method *models.PaymentMethod, market *models.MarketConditions, amountUSD float64) (*models.CostEstimate, error) {
	chain := *method.Chain

	spreadRate := nativeSpreadRate
	if method.Type.IsStablecoin() {
		spreadRate = stablecoinSpreadRate
	}
	spread := amountUSD * spreadRate

	gasFee, confidence, degraded := e.gasFor(chain, market)

	// Settlement token must be priced against USD. A stablecoin missing its
	// quote is assumed at peg; a native token missing its quote cannot be
	// priced honestly, so the estimate degrades.
	symbol := method.Type.TokenSymbol(chain)
	if rate, ok := market.RateFor(symbol, "USD"); ok {
		confidence *= rate.Confidence
	} else if method.Type == types.MethodNativeToken {
		degraded = true
	}

	if degraded && confidence > degradedConfidence {
		confidence = degradedConfidence
	}

	return &models.CostEstimate{
		BaseCost:     amountUSD,
		GasFee:       gasFee,
		ProcessorFee: spread,
		TotalCost:    amountUSD + gasFee + spread,
		Currency:     "USD",
		Confidence:   confidence,
		Degraded:     degraded,
	}, nil
}

// gasFor reads the chain's gas fee from the snapshot, falling back to the
// configured per-chain default when the snapshot has no usable entry.
func (e *Estimator) gasFor(chain types.ChainID, market *models.MarketConditions) (fee float64, confidence float64, degraded bool) {
	if market != nil {
		if gas, ok := market.GasFor(chain); ok {
			// A snapshot entry at or below the degraded ceiling was itself
			// synthesized from fallbacks upstream.
			return gas.GasFeeUSD, gas.Confidence, gas.Confidence <= degradedConfidence
		}
	}

	fallback, ok := e.fallbackGas[chain]
	if !ok {
		fallback = defaultFallbackGasUSD
	}
	return fallback, degradedConfidence, true
}
