package models

import (
	"time"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// MethodPreference tracks a user's history with one payment method type.
type MethodPreference struct {
	MethodType types.MethodType `json:"methodType"`
	Score      float64          `json:"score"`
	LastUsed   *time.Time       `json:"lastUsed,omitempty"`
	UsageCount int              `json:"usageCount"`
}

// UserPreferences represents a user's payment method preferences. Updated
// only by explicit usage events, never by a scoring pass.
type UserPreferences struct {
	UserID            string             `json:"userId" db:"user_id"`
	PreferredMethods  []MethodPreference `json:"preferredMethods" db:"preferred_methods"`
	AvoidedMethods    []types.MethodType `json:"avoidedMethods" db:"avoided_methods"`
	PreferStablecoins bool               `json:"preferStablecoins" db:"prefer_stablecoins"`
	PreferFiat        bool               `json:"preferFiat" db:"prefer_fiat"`
	UpdatedAt         time.Time          `json:"updatedAt" db:"updated_at"`
}

// Avoids reports whether the user has explicitly avoided the method type.
func (p *UserPreferences) Avoids(m types.MethodType) bool {
	for _, avoided := range p.AvoidedMethods {
		if avoided == m {
			return true
		}
	}
	return false
}

// PreferenceFor returns the stored preference entry for a method type.
func (p *UserPreferences) PreferenceFor(m types.MethodType) (*MethodPreference, bool) {
	for i := range p.PreferredMethods {
		if p.PreferredMethods[i].MethodType == m {
			return &p.PreferredMethods[i], true
		}
	}
	return nil, false
}
