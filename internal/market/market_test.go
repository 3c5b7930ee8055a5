package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/storage"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// stubGasSource serves canned estimates and can be flipped to failing
// mid-test.
type stubGasSource struct {
	mu        sync.Mutex
	estimates map[types.ChainID]*models.GasEstimate
	err       error
	calls     int
}

func (s *stubGasSource) Estimate(ctx context.Context, chain types.ChainID) (*models.GasEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	est, ok := s.estimates[chain]
	if !ok {
		return nil, apperrors.NewNotFoundError("gas source", string(chain))
	}
	copied := *est
	return &copied, nil
}

func (s *stubGasSource) Name() string { return "stub-gas" }

func (s *stubGasSource) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubGasSource) setGwei(chain types.ChainID, gwei float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[chain].GasPriceGwei = gwei
}

// stubRateSource serves rates from a map keyed by base symbol
type stubRateSource struct {
	mu    sync.Mutex
	rates map[string]float64
	errs  map[string]error
}

func (s *stubRateSource) Rate(ctx context.Context, from, to string) (*models.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[from]; ok {
		return nil, err
	}
	price, ok := s.rates[from]
	if !ok {
		return nil, apperrors.NewProviderError("stub-rates", fmt.Errorf("no rate for %s", from))
	}
	return &models.ExchangeRate{
		From:       from,
		To:         to,
		Rate:       price,
		Confidence: 0.95,
		Source:     "stub-rates",
		AsOf:       time.Now().UTC(),
	}, nil
}

func (s *stubRateSource) Name() string { return "stub-rates" }

func newSnapshotHarness(t *testing.T) (*SnapshotService, *stubGasSource, *stubRateSource, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := storage.NewCacheService(storage.NewRedisCacheFromClient(client), 20*time.Second)

	gas := &stubGasSource{
		estimates: map[types.ChainID]*models.GasEstimate{
			types.ChainEthereum: {
				Chain:            types.ChainEthereum,
				GasPriceGwei:     30,
				GasLimit:         65000,
				BlockTimeSeconds: 12,
				Confidence:       0.95,
				Source:           "stub-gas",
				AsOf:             time.Now().UTC(),
			},
		},
	}
	rates := &stubRateSource{rates: map[string]float64{
		"ETH":  2000,
		"USDC": 1.0,
		"USDT": 1.0,
	}}

	cfg := &config.Config{
		Chains: config.ChainsConfig{
			Enabled: []string{"ethereum"},
			Chains: map[string]config.ChainConfig{
				"ethereum": {FallbackGasUSD: 5.0},
			},
		},
	}

	svc := NewSnapshotService(gas, rates, cache, nil, metrics.NoopRecorder{}, cfg)
	return svc, gas, rates, mr
}

func TestSnapshotHealthyChain(t *testing.T) {
	svc, _, _, _ := newSnapshotHarness(t)
	ctx := context.Background()

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	assert.True(t, snapshot.Up(types.ChainEthereum))

	gas, ok := snapshot.GasFor(types.ChainEthereum)
	require.True(t, ok)

	// 30 gwei * 65000 gas * 1e-9 = 0.00195 ETH, at 2000 USD/ETH
	assert.InDelta(t, 3.9, gas.GasFeeUSD, 1e-9)
	assert.Equal(t, types.CongestionMedium, gas.Congestion)
	assert.InDelta(t, 0.95, gas.Confidence, 1e-9)
	assert.InDelta(t, 12.0, gas.BlockTimeSeconds, 1e-9)

	rate, ok := snapshot.RateFor("ETH", "USD")
	require.True(t, ok)
	assert.InDelta(t, 2000, rate.Rate, 1e-9)

	_, ok = snapshot.RateFor("USDC", "USD")
	assert.True(t, ok)
	_, ok = snapshot.RateFor("USDT", "USD")
	assert.True(t, ok)
}

func TestSnapshotServedFromCache(t *testing.T) {
	svc, gas, _, _ := newSnapshotHarness(t)
	ctx := context.Background()

	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	firstFee := first.Gas[types.ChainEthereum].GasFeeUSD

	// A changed source must not show through while the snapshot is cached
	gas.setGwei(types.ChainEthereum, 80)

	second, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, firstFee, second.Gas[types.ChainEthereum].GasFeeUSD, 1e-9)
	assert.Equal(t, first.AsOf.Unix(), second.AsOf.Unix())
}

func TestRefreshRebuildsSnapshot(t *testing.T) {
	svc, gas, _, _ := newSnapshotHarness(t)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	gas.setGwei(types.ChainEthereum, 80)

	refreshed, err := svc.Refresh(ctx)
	require.NoError(t, err)

	conditions := refreshed.Gas[types.ChainEthereum]
	assert.Equal(t, types.CongestionHigh, conditions.Congestion)
	assert.InDelta(t, 80*65000*1e-9*2000, conditions.GasFeeUSD, 1e-9)
}

func TestSnapshotGasFailureFallsBack(t *testing.T) {
	svc, gas, _, _ := newSnapshotHarness(t)
	ctx := context.Background()

	gas.setError(apperrors.NewProviderError("stub-gas", fmt.Errorf("rpc down")))

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	// One failure leaves the breaker closed: the chain stays up on
	// configured fallback values.
	assert.True(t, snapshot.Up(types.ChainEthereum))

	conditions, ok := snapshot.GasFor(types.ChainEthereum)
	require.True(t, ok)
	assert.InDelta(t, 5.0, conditions.GasFeeUSD, 1e-9)
	assert.InDelta(t, fallbackConfidence, conditions.Confidence, 1e-9)
	assert.Equal(t, types.CongestionMedium, conditions.Congestion)
}

func TestSnapshotOpenBreakerMarksChainDown(t *testing.T) {
	svc, gas, _, _ := newSnapshotHarness(t)
	ctx := context.Background()

	gas.setError(apperrors.NewProviderError("stub-gas", fmt.Errorf("rpc down")))

	// MarketSourceConfig opens the breaker after 8 consecutive failures
	var snapshot *models.MarketConditions
	var err error
	for i := 0; i < 8; i++ {
		snapshot, err = svc.Refresh(ctx)
		require.NoError(t, err)
	}

	assert.False(t, snapshot.Up(types.ChainEthereum))
	_, ok := snapshot.GasFor(types.ChainEthereum)
	assert.False(t, ok)
}

func TestSnapshotMissingRateDegradesGas(t *testing.T) {
	svc, _, rates, _ := newSnapshotHarness(t)
	ctx := context.Background()

	rates.errs = map[string]error{
		"ETH": apperrors.NewProviderError("stub-rates", fmt.Errorf("quote unavailable")),
	}

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	// Gas source is fine but without ETH/USD the fee cannot be priced
	assert.True(t, snapshot.Up(types.ChainEthereum))

	conditions, ok := snapshot.GasFor(types.ChainEthereum)
	require.True(t, ok)
	assert.InDelta(t, 5.0, conditions.GasFeeUSD, 1e-9)
	assert.InDelta(t, fallbackConfidence, conditions.Confidence, 1e-9)

	_, ok = snapshot.RateFor("ETH", "USD")
	assert.False(t, ok)
	_, ok = snapshot.RateFor("USDC", "USD")
	assert.True(t, ok)
}

func TestCongestionBuckets(t *testing.T) {
	tests := []struct {
		name string
		gwei float64
		want types.NetworkCongestion
	}{
		{"cheap", 10, types.CongestionLow},
		{"boundary low", 15, types.CongestionMedium},
		{"moderate", 30, types.CongestionMedium},
		{"boundary medium", 60, types.CongestionHigh},
		{"spike", 80, types.CongestionHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, congestionFor(tt.gwei))
		})
	}
}

func TestHTTPRateSourceFetches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rates", r.URL.Path)
		assert.Equal(t, "ETH", r.URL.Query().Get("base"))
		assert.Equal(t, "USD", r.URL.Query().Get("quote"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"base":"ETH","quote":"USD","price":2150.25,"timestamp":1755770400}`)
	}))
	defer server.Close()

	source := NewHTTPRateSource(&config.MarketConfig{
		RateBaseURL: server.URL,
		RateAPIKey:  "test-key",
		RateTimeout: 2 * time.Second,
	})

	rate, err := source.Rate(context.Background(), "ETH", "USD")
	require.NoError(t, err)
	assert.Equal(t, "ETH", rate.From)
	assert.Equal(t, "USD", rate.To)
	assert.InDelta(t, 2150.25, rate.Rate, 1e-9)
	assert.InDelta(t, rateConfidence, rate.Confidence, 1e-9)
	assert.Equal(t, int64(1755770400), rate.AsOf.Unix())
}

func TestHTTPRateSourceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewHTTPRateSource(&config.MarketConfig{
		RateBaseURL: server.URL,
		RateTimeout: 2 * time.Second,
	})

	_, err := source.Rate(context.Background(), "ETH", "USD")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHTTPRateSourceNonPositivePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"base":"ETH","quote":"USD","price":0}`)
	}))
	defer server.Close()

	source := NewHTTPRateSource(&config.MarketConfig{
		RateBaseURL: server.URL,
		RateTimeout: 2 * time.Second,
	})

	_, err := source.Rate(context.Background(), "ETH", "USD")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)
}

func TestHTTPRateSourceTimeout(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	source := NewHTTPRateSource(&config.MarketConfig{
		RateBaseURL: server.URL,
		RateTimeout: 50 * time.Millisecond,
	})

	_, err := source.Rate(context.Background(), "ETH", "USD")
	<-started
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryTimeout, apperrors.Categorize(err).Category)
}
