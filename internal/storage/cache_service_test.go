package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

func TestGenerateCacheKeys(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"session key", cache.GenerateSessionKey("ABC-123"), "session:abc-123"},
		{"preferences key", cache.GeneratePreferencesKey("user-1"), "prefs:user-1"},
		{"gas key", cache.GenerateGasKey(types.ChainPolygon), "market:gas:polygon"},
		{"rate key", cache.GenerateRateKey("ETH", "USD"), "market:rate:eth:usd"},
		{"snapshot key", cache.GenerateSnapshotKey(), "market:snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := testContext(t)

	gas := &models.GasConditions{
		GasFeeUSD:        4.2,
		BlockTimeSeconds: 12,
		Congestion:       types.CongestionLow,
		Confidence:       0.9,
	}

	key := cache.GenerateGasKey(types.ChainEthereum)
	require.NoError(t, cache.Set(ctx, key, gas))

	var got models.GasConditions
	hit, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, gas.GasFeeUSD, got.GasFeeUSD)
	assert.Equal(t, gas.Congestion, got.Congestion)
}

func TestCacheGetMiss(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := testContext(t)

	var dest models.GasConditions
	hit, err := cache.Get(ctx, "market:gas:nowhere", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t, 50*time.Millisecond)
	ctx := testContext(t)

	key := cache.GenerateRateKey("ETH", "USD")
	require.NoError(t, cache.Set(ctx, key, models.ExchangeRate{From: "ETH", To: "USD", Rate: 3000}))

	mr.FastForward(100 * time.Millisecond)

	var got models.ExchangeRate
	hit, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit, "entry should expire after TTL")
}

func TestCacheInvalidateMarket(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := testContext(t)

	require.NoError(t, cache.Set(ctx, cache.GenerateGasKey(types.ChainEthereum), models.GasConditions{GasFeeUSD: 5}))
	require.NoError(t, cache.Set(ctx, cache.GenerateRateKey("ETH", "USD"), models.ExchangeRate{Rate: 3000}))
	require.NoError(t, cache.Set(ctx, cache.GeneratePreferencesKey("u1"), models.UserPreferences{UserID: "u1"}))

	require.NoError(t, cache.InvalidateMarket(ctx))

	var gas models.GasConditions
	hit, err := cache.Get(ctx, cache.GenerateGasKey(types.ChainEthereum), &gas)
	require.NoError(t, err)
	assert.False(t, hit, "market keys should be gone")

	var prefs models.UserPreferences
	hit, err = cache.Get(ctx, cache.GeneratePreferencesKey("u1"), &prefs)
	require.NoError(t, err)
	assert.True(t, hit, "non-market keys should survive")
}
