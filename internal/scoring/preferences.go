package scoring

import (
	"context"
	"time"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/storage"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// Usage events move a method's stored score in steps, capped at 1.0.
const (
	usageInitialScore = 0.6
	usageStep         = 0.05
)

// PreferenceStore persists user preferences.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*models.UserPreferences, error)
	Upsert(ctx context.Context, prefs *models.UserPreferences) error
}

// PreferenceTracker loads preferences with a read-through cache and applies
// explicit usage events. Scoring passes never write through this type.
type PreferenceTracker struct {
	store  PreferenceStore
	cache  *storage.CacheService
	logger *logging.Logger
}

// NewPreferenceTracker creates a new preference tracker
func NewPreferenceTracker(store PreferenceStore, cache *storage.CacheService) *PreferenceTracker {
	return &PreferenceTracker{
		store:  store,
		cache:  cache,
		logger: logging.GetGlobalLogger().WithField("component", "preference_tracker"),
	}
}

// Preferences returns the user's preferences, falling back to defaults when
// the user has no stored record.
func (t *PreferenceTracker) Preferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	if t.cache != nil {
		var cached models.UserPreferences
		key := t.cache.GeneratePreferencesKey(userID)
		if hit, err := t.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	prefs, err := t.store.Get(ctx, userID)
	if err != nil {
		if apperrors.Categorize(err).Category == apperrors.CategoryNotFound {
			return defaultUserPreferences(userID), nil
		}
		return nil, err
	}

	if t.cache != nil {
		key := t.cache.GeneratePreferencesKey(userID)
		if err := t.cache.Set(ctx, key, prefs); err != nil {
			t.logger.WithError(err).Warn("Failed to cache preferences")
		}
	}

	return prefs, nil
}

// RecordUsage applies one usage event for a method type: bumps the stored
// score, stamps the usage time, and invalidates the cached copy. This is
// the only path that mutates preference history.
func (t *PreferenceTracker) RecordUsage(ctx context.Context, userID string, methodType types.MethodType) error {
	prefs, err := t.store.Get(ctx, userID)
	if err != nil {
		if apperrors.Categorize(err).Category != apperrors.CategoryNotFound {
			return err
		}
		prefs = defaultUserPreferences(userID)
	}

	now := time.Now().UTC()
	if entry, ok := prefs.PreferenceFor(methodType); ok {
		entry.Score += usageStep
		if entry.Score > 1.0 {
			entry.Score = 1.0
		}
		entry.LastUsed = &now
		entry.UsageCount++
	} else {
		prefs.PreferredMethods = append(prefs.PreferredMethods, models.MethodPreference{
			MethodType: methodType,
			Score:      usageInitialScore,
			LastUsed:   &now,
			UsageCount: 1,
		})
	}
	prefs.UpdatedAt = now

	if err := t.store.Upsert(ctx, prefs); err != nil {
		return err
	}

	if t.cache != nil {
		key := t.cache.GeneratePreferencesKey(userID)
		if err := t.cache.Invalidate(ctx, key); err != nil {
			t.logger.WithError(err).Warn("Failed to invalidate cached preferences")
		}
	}

	t.logger.WithFields(map[string]interface{}{
		"userId":     userID,
		"methodType": methodType,
	}).Debug("Recorded payment method usage")

	return nil
}

func defaultUserPreferences(userID string) *models.UserPreferences {
	return &models.UserPreferences{
		UserID:           userID,
		PreferredMethods: []models.MethodPreference{},
		AvoidedMethods:   []types.MethodType{},
	}
}
