package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// PreferenceRepository handles user payment preference persistence. Method
// histories are stored as JSONB so the shape can evolve without migrations.
type PreferenceRepository struct {
	db *PostgresDB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *PostgresDB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get retrieves a user's stored preferences
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*models.UserPreferences, error) {
	query := `
		SELECT user_id, preferred_methods, avoided_methods, prefer_stablecoins, prefer_fiat, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`

	var prefs models.UserPreferences
	var preferredJSON, avoidedJSON []byte

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&prefs.UserID,
		&preferredJSON,
		&avoidedJSON,
		&prefs.PreferStablecoins,
		&prefs.PreferFiat,
		&prefs.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user preferences", userID)
		}
		return nil, apperrors.NewDatabaseError("get preferences", err)
	}

	if len(preferredJSON) > 0 {
		if err := json.Unmarshal(preferredJSON, &prefs.PreferredMethods); err != nil {
			return nil, apperrors.NewDatabaseError("decode preferred methods", err)
		}
	}
	if len(avoidedJSON) > 0 {
		if err := json.Unmarshal(avoidedJSON, &prefs.AvoidedMethods); err != nil {
			return nil, apperrors.NewDatabaseError("decode avoided methods", err)
		}
	}

	return &prefs, nil
}

// Upsert stores a user's preferences, replacing any existing record
func (r *PreferenceRepository) Upsert(ctx context.Context, prefs *models.UserPreferences) error {
	if prefs.PreferredMethods == nil {
		prefs.PreferredMethods = []models.MethodPreference{}
	}
	if prefs.AvoidedMethods == nil {
		prefs.AvoidedMethods = []types.MethodType{}
	}
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}

	preferredJSON, err := json.Marshal(prefs.PreferredMethods)
	if err != nil {
		return apperrors.NewDatabaseError("encode preferred methods", err)
	}
	avoidedJSON, err := json.Marshal(prefs.AvoidedMethods)
	if err != nil {
		return apperrors.NewDatabaseError("encode avoided methods", err)
	}

	query := `
		INSERT INTO user_preferences (user_id, preferred_methods, avoided_methods, prefer_stablecoins, prefer_fiat, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_methods = EXCLUDED.preferred_methods,
			avoided_methods = EXCLUDED.avoided_methods,
			prefer_stablecoins = EXCLUDED.prefer_stablecoins,
			prefer_fiat = EXCLUDED.prefer_fiat,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.Pool().Exec(ctx, query,
		prefs.UserID,
		preferredJSON,
		avoidedJSON,
		prefs.PreferStablecoins,
		prefs.PreferFiat,
		prefs.UpdatedAt,
	)

	if err != nil {
		return apperrors.NewDatabaseError("upsert preferences", err)
	}

	return nil
}
