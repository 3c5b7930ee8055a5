package market

import (
	"context"
	"sort"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/circuitbreaker"
	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/storage"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// Congestion derivation thresholds, in gwei. Applied uniformly: the score
// only needs a coarse low/medium/high signal, not chain-tuned curves.
const (
	congestionLowMaxGwei    = 15.0
	congestionMediumMaxGwei = 60.0
)

// fallbackConfidence marks gas conditions synthesized from configured
// fallbacks rather than a live source.
const fallbackConfidence = 0.3

// stablecoinSymbols are quoted against USD in every snapshot
var stablecoinSymbols = []string{"USDC", "USDT"}

// SnapshotService assembles MarketConditions from the gas and rate sources,
// caching the result so concurrent scoring passes within the TTL share one
// consistent view.
type SnapshotService struct {
	gas      GasFeeSource
	rates    RateSource
	cache    *storage.CacheService
	quota    *RequestQuota
	breakers *circuitbreaker.Manager
	recorder metrics.Recorder
	chains   []types.ChainID
	fallback map[types.ChainID]float64
	logger   *logging.Logger
}

// NewSnapshotService creates a snapshot service for the enabled chains.
// A nil quota disables rate-API request pacing.
func NewSnapshotService(gas GasFeeSource, rates RateSource, cache *storage.CacheService, quota *RequestQuota, recorder metrics.Recorder, cfg *config.Config) *SnapshotService {
	chains := make([]types.ChainID, 0, len(cfg.Chains.Enabled))
	fallback := make(map[types.ChainID]float64, len(cfg.Chains.Enabled))
	for _, name := range cfg.Chains.Enabled {
		chain := types.ChainID(name)
		chains = append(chains, chain)
		fallback[chain] = cfg.Chains.Chains[name].FallbackGasUSD
	}

	return &SnapshotService{
		gas:      gas,
		rates:    rates,
		cache:    cache,
		quota:    quota,
		breakers: circuitbreaker.NewManager(),
		recorder: recorder,
		chains:   chains,
		fallback: fallback,
		logger:   logging.GetGlobalLogger().WithField("component", "market_snapshot"),
	}
}

// Snapshot returns the current market conditions, served from cache within
// the snapshot TTL.
func (s *SnapshotService) Snapshot(ctx context.Context) (*models.MarketConditions, error) {
	var cached models.MarketConditions
	if hit, err := s.cache.Get(ctx, s.cache.GenerateSnapshotKey(), &cached); err == nil && hit {
		return &cached, nil
	}

	snapshot := s.assemble(ctx)

	if err := s.cache.Set(ctx, s.cache.GenerateSnapshotKey(), snapshot); err != nil {
		s.logger.WithError(err).Warn("Failed to cache market snapshot")
	}

	return snapshot, nil
}

// Refresh drops all cached market data and rebuilds the snapshot
func (s *SnapshotService) Refresh(ctx context.Context) (*models.MarketConditions, error) {
	if err := s.cache.InvalidateMarket(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate market cache")
	}
	return s.Snapshot(ctx)
}

// assemble builds a fresh snapshot. Source failures degrade the affected
// chain instead of failing the whole snapshot: scoring must keep working on
// conservative values.
func (s *SnapshotService) assemble(ctx context.Context) *models.MarketConditions {
	now := time.Now().UTC()

	rates := s.collectRates(ctx)

	snapshot := &models.MarketConditions{
		Gas:       make(map[types.ChainID]*models.GasConditions, len(s.chains)),
		Rates:     rates,
		NetworkUp: make(map[types.ChainID]bool, len(s.chains)),
		AsOf:      now,
	}

	for _, chain := range s.chains {
		gas, up := s.collectGas(ctx, chain, snapshot)
		snapshot.NetworkUp[chain] = up
		if gas != nil {
			snapshot.Gas[chain] = gas
		}
	}

	return snapshot
}

// ratePairs lists the symbols quoted against USD: every enabled chain's
// native asset plus the stablecoins.
func (s *SnapshotService) ratePairs() []string {
	seen := make(map[string]bool)
	var symbols []string

	for _, chain := range s.chains {
		native := chain.NativeSymbol()
		if !seen[native] {
			seen[native] = true
			symbols = append(symbols, native)
		}
	}
	for _, stable := range stablecoinSymbols {
		if !seen[stable] {
			seen[stable] = true
			symbols = append(symbols, stable)
		}
	}

	sort.Strings(symbols)
	return symbols
}

func (s *SnapshotService) collectRates(ctx context.Context) []models.ExchangeRate {
	var rates []models.ExchangeRate

	for _, symbol := range s.ratePairs() {
		rate, err := s.fetchRate(ctx, symbol, "USD")
		if err != nil {
			s.logger.WithError(err).WithField("pair", symbol+"/USD").Warn("Rate fetch failed, snapshot proceeds without it")
			s.recorder.IncCounter("rate_fetch_failed", map[string]string{"target": symbol})
			continue
		}
		rates = append(rates, *rate)
	}

	return rates
}

func (s *SnapshotService) fetchRate(ctx context.Context, from, to string) (*models.ExchangeRate, error) {
	key := s.cache.GenerateRateKey(from, to)

	var cached models.ExchangeRate
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	// Quota denial is not a source fault: it stays outside the breaker so
	// pacing pressure cannot open the circuit on a healthy API.
	if s.quota != nil {
		if ok, wait := s.quota.TryAcquire(ctx, PoolCheckout); !ok {
			s.recorder.IncCounter("rate_quota_denied", map[string]string{"target": from})
			return nil, apperrors.NewRateLimitError(int(wait.Seconds()) + 1)
		}
	}

	breaker := s.breakers.GetOrCreate("rate:"+from, circuitbreaker.MarketSourceConfig("rate:"+from))

	var rate *models.ExchangeRate
	start := time.Now()
	err := breaker.Execute(ctx, func() error {
		var fetchErr error
		rate, fetchErr = s.rates.Rate(ctx, from, to)
		return fetchErr
	})
	s.recorder.ObserveLatency("rate_fetch", time.Since(start), map[string]string{"target": from})
	if err != nil {
		return nil, err
	}

	if cacheErr := s.cache.Set(ctx, key, rate); cacheErr != nil {
		s.logger.WithError(cacheErr).Warn("Failed to cache exchange rate")
	}

	return rate, nil
}

// collectGas produces the chain's gas conditions and its up/down state.
// A fetch failure degrades to the configured fallback while the breaker is
// still probing; an open breaker marks the chain down with no gas entry.
func (s *SnapshotService) collectGas(ctx context.Context, chain types.ChainID, snapshot *models.MarketConditions) (*models.GasConditions, bool) {
	key := s.cache.GenerateGasKey(chain)

	var cached models.GasConditions
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true
	}

	breaker := s.breakers.GetOrCreate("gas:"+string(chain), circuitbreaker.MarketSourceConfig("gas:"+string(chain)))

	var estimate *models.GasEstimate
	start := time.Now()
	err := breaker.Execute(ctx, func() error {
		var fetchErr error
		estimate, fetchErr = s.gas.Estimate(ctx, chain)
		return fetchErr
	})
	s.recorder.ObserveLatency("gas_fetch", time.Since(start), map[string]string{"target": string(chain)})

	if err != nil {
		s.recorder.IncCounter("gas_fetch_failed", map[string]string{"target": string(chain)})

		if breaker.GetState() == circuitbreaker.StateOpen {
			s.logger.WithField("chain", chain).Warn("Gas source circuit open, marking chain down")
			return nil, false
		}

		s.logger.WithError(err).WithField("chain", chain).Warn("Gas fetch failed, using configured fallback")
		return &models.GasConditions{
			GasFeeUSD:        s.fallback[chain],
			BlockTimeSeconds: defaultBlockTime,
			Congestion:       types.CongestionMedium,
			Confidence:       fallbackConfidence,
			AsOf:             time.Now().UTC(),
		}, true
	}

	conditions := s.toConditions(estimate, snapshot)

	if cacheErr := s.cache.Set(ctx, key, conditions); cacheErr != nil {
		s.logger.WithError(cacheErr).Warn("Failed to cache gas conditions")
	}

	return conditions, true
}

// toConditions converts a raw gas estimate to USD terms using the snapshot's
// native-asset rate. A missing rate degrades to the configured fallback fee.
func (s *SnapshotService) toConditions(estimate *models.GasEstimate, snapshot *models.MarketConditions) *models.GasConditions {
	conditions := &models.GasConditions{
		BlockTimeSeconds: estimate.BlockTimeSeconds,
		Congestion:       congestionFor(estimate.GasPriceGwei),
		Confidence:       estimate.Confidence,
		AsOf:             estimate.AsOf,
	}

	native := estimate.Chain.NativeSymbol()
	rate, ok := snapshot.RateFor(native, "USD")
	if !ok {
		conditions.GasFeeUSD = s.fallback[estimate.Chain]
		conditions.Confidence = fallbackConfidence
		return conditions
	}

	gasUnits := estimate.GasPriceGwei * float64(estimate.GasLimit) * 1e-9
	conditions.GasFeeUSD = gasUnits * rate.Rate

	if rate.Confidence < conditions.Confidence {
		conditions.Confidence = rate.Confidence
	}

	return conditions
}

// congestionFor buckets a gas price into the coarse congestion levels
func congestionFor(gasPriceGwei float64) types.NetworkCongestion {
	switch {
	case gasPriceGwei < congestionLowMaxGwei:
		return types.CongestionLow
	case gasPriceGwei < congestionMediumMaxGwei:
		return types.CongestionMedium
	default:
		return types.CongestionHigh
	}
}
