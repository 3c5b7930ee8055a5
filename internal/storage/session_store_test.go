package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

func testSession(id string, ttl time.Duration) *models.CheckoutSession {
	now := time.Now().UTC()
	return &models.CheckoutSession{
		ID:     id,
		UserID: "user-1",
		Chain:  types.ChainEthereum,
		Items: []models.LineItem{
			{ListingID: "listing-1", Title: "Widget", Quantity: 2, UnitPrice: decimal.NewFromFloat(19.99)},
		},
		Totals: models.SessionTotals{
			Subtotal: decimal.NewFromFloat(39.98),
			Total:    decimal.NewFromFloat(48.18),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	store := NewSessionStore(cache)
	ctx := testContext(t)

	session := testSession("sess-1", 30*time.Minute)
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.UserID, got.UserID)
	assert.True(t, session.Totals.Total.Equal(got.Totals.Total))
	assert.Len(t, got.Items, 1)
}

func TestSessionStoreMissingSession(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	store := NewSessionStore(cache)
	ctx := testContext(t)

	_, err := store.Get(ctx, "nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)
}

func TestSessionStoreRetainsExpiredSession(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	store := NewSessionStore(cache)
	ctx := testContext(t)

	session := testSession("sess-2", time.Second)
	require.NoError(t, store.Save(ctx, session))

	// Logical expiry passed, retention window not
	mr.FastForward(5 * time.Second)

	got, err := store.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, got.Expired(time.Now().UTC().Add(5*time.Second)))

	// Past the retention window the key itself disappears
	mr.FastForward(expiredRetention)

	_, err = store.Get(ctx, "sess-2")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)
}

func TestSessionStoreDelete(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	store := NewSessionStore(cache)
	ctx := testContext(t)

	session := testSession("sess-3", 30*time.Minute)
	require.NoError(t, store.Save(ctx, session))
	require.NoError(t, store.Delete(ctx, "sess-3"))

	_, err := store.Get(ctx, "sess-3")
	require.Error(t, err)
}
