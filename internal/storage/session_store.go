package storage

import (
	"context"
	"time"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
)

// expiredRetention keeps a session readable in Redis for a short window
// after its logical expiry, so checkout can answer SESSION_EXPIRED instead
// of NOT_FOUND for recently expired sessions.
const expiredRetention = 10 * time.Minute

// SessionStore persists checkout sessions in Redis. The Redis TTL trails
// the logical expiry; callers must still check CheckoutSession.Expired.
type SessionStore struct {
	cache *CacheService
}

// NewSessionStore creates a new session store
func NewSessionStore(cache *CacheService) *SessionStore {
	return &SessionStore{cache: cache}
}

// Save writes a session with a TTL covering its remaining lifetime plus the
// retention window.
func (s *SessionStore) Save(ctx context.Context, session *models.CheckoutSession) error {
	remaining := time.Until(session.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}

	key := s.cache.GenerateSessionKey(session.ID)
	if err := s.cache.SetWithTTL(ctx, key, session, remaining+expiredRetention); err != nil {
		return apperrors.NewCacheError("save session", err)
	}

	return nil
}

// Get retrieves a session by ID
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession

	key := s.cache.GenerateSessionKey(sessionID)
	hit, err := s.cache.Get(ctx, key, &session)
	if err != nil {
		return nil, apperrors.NewCacheError("get session", err)
	}
	if !hit {
		return nil, apperrors.NewNotFoundError("checkout session", sessionID)
	}

	return &session, nil
}

// Delete removes a session
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	key := s.cache.GenerateSessionKey(sessionID)
	if err := s.cache.Invalidate(ctx, key); err != nil {
		return apperrors.NewCacheError("delete session", err)
	}
	return nil
}
