package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is the fixed session lifetime when none is configured.
const DefaultSessionTTL = 8 * time.Hour

// SessionManager owns session lifecycle state. Expiry is fixed at creation
// (CreatedAt + TTL); activity never extends it.
type SessionManager struct {
	store      Store
	ttl        time.Duration
	maxPerUser int
	now        func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionTTL overrides the fixed session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSessionLimit caps concurrent active sessions per user. Zero means
// unlimited, which is the default policy.
func WithSessionLimit(n int) SessionOption {
	return func(m *SessionManager) {
		if n >= 0 {
			m.maxPerUser = n
		}
	}
}

// WithSessionClock overrides the time source (tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(store Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{store: store, ttl: DefaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured fixed session lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Create opens a new active session for the user.
func (m *SessionManager) Create(ctx context.Context, userID string, client ClientContext) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := m.now().UTC()
	if m.maxPerUser > 0 {
		active, err := m.store.Sessions(ctx).CountActive(ctx, userID, now)
		if err != nil {
			return nil, fmt.Errorf("count sessions: %w", err)
		}
		if active >= m.maxPerUser {
			return nil, ErrSessionLimit
		}
	}
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Client:       client,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.ttl),
		Status:       SessionActive,
	}
	if err := m.store.Sessions(ctx).Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Validate checks that the session exists, belongs to the user, is active,
// and has not passed its fixed expiry. A session found past expiry is
// transitioned to expired as a side effect (best effort).
func (m *SessionManager) Validate(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" || userID == "" {
		return ErrSessionNotFound
	}
	s, err := m.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if s.UserID != userID {
		return ErrSessionNotFound
	}
	switch s.Status {
	case SessionInvalidated:
		return ErrSessionInvalidated
	case SessionExpired:
		return ErrSessionExpired
	}
	if m.now().After(s.ExpiresAt) {
		_ = m.store.Sessions(ctx).SetStatus(ctx, sessionID, SessionExpired)
		return ErrSessionExpired
	}
	return nil
}

// Invalidate terminates the session (explicit logout). Idempotent: repeated
// calls and calls on unknown sessions succeed.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	s, err := m.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if s.Status == SessionInvalidated {
		return nil
	}
	return m.store.Sessions(ctx).SetStatus(ctx, sessionID, SessionInvalidated)
}

// Touch records activity for observability. It never extends ExpiresAt.
func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	return m.store.Sessions(ctx).Touch(ctx, sessionID, m.now().UTC())
}
