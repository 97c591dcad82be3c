package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinauth.org/internal/audit"
	"clinauth.org/internal/obs"
)

// DefaultLockoutThreshold is the failed-attempt count at which an account
// locks.
const DefaultLockoutThreshold = 5

// Authenticator verifies principals and opens sessions. Secret verification
// is delegated entirely to the IdentityProvider; the engine never sees or
// stores credential material.
type Authenticator struct {
	store     Store
	provider  IdentityProvider
	sessions  *SessionManager
	resolver  *Resolver
	recorder  audit.Recorder
	threshold int
	now       func() time.Time
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithLockoutThreshold overrides the failed-attempt lockout threshold.
func WithLockoutThreshold(n int) AuthOption {
	return func(a *Authenticator) {
		if n > 0 {
			a.threshold = n
		}
	}
}

// WithAuthClock overrides the time source (tests).
func WithAuthClock(fn func() time.Time) AuthOption {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(store Store, provider IdentityProvider, sessions *SessionManager, resolver *Resolver, recorder audit.Recorder, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		store:     store,
		provider:  provider,
		sessions:  sessions,
		resolver:  resolver,
		recorder:  recorder,
		threshold: DefaultLockoutThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate runs the full login pipeline. The outcome is a value, never
// an error: locked, inactive, training-expired and bad-credential results
// all come back as a failed AuthResult with the reason preserved. A non-nil
// error means infrastructure failure only.
//
// Exactly one audit entry is written per call, success or failure.
func (a *Authenticator) Authenticate(ctx context.Context, username, secret string, client ClientContext) (AuthResult, error) {
	start := a.now()
	username = strings.TrimSpace(username)

	result, infraErr := a.evaluate(ctx, username, secret, client)
	obs.ObserveAuthAttempt(authMetricLabel(result, infraErr))

	entry := &audit.Entry{
		UserID:      result.UserID,
		SessionID:   result.SessionID,
		Action:      audit.ActionLogin,
		Decision:    audit.DecisionDenied,
		Reason:      result.Reason,
		Permissions: result.Permissions,
		LatencyMS:   a.now().Sub(start).Milliseconds(),
	}
	if result.OK {
		entry.Decision = audit.DecisionGranted
		entry.Reason = ""
	}
	if entry.UserID == "" {
		// Unknown principal: keep the attempted name for the trail.
		entry.ResourceType = "username"
		entry.ResourceID = username
	}
	if infraErr != nil {
		entry.Reason = ReasonStoreUnavailable
	}
	if err := a.recorder.Record(ctx, entry); err != nil {
		// Fail closed: an unauditable login is not a login.
		if result.OK {
			_ = a.sessions.Invalidate(ctx, result.SessionID)
		}
		return AuthResult{Reason: ReasonAuditUnavailable}, nil
	}
	return result, infraErr
}

// Logout invalidates the session and records the logout. Invalidation is
// idempotent, so repeating a logout is harmless.
func (a *Authenticator) Logout(ctx context.Context, userID, sessionID string) error {
	start := a.now()
	if err := a.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	return a.recorder.Record(ctx, &audit.Entry{
		UserID:    userID,
		SessionID: sessionID,
		Action:    audit.ActionLogout,
		Decision:  audit.DecisionGranted,
		LatencyMS: a.now().Sub(start).Milliseconds(),
	})
}

func (a *Authenticator) evaluate(ctx context.Context, username, secret string, client ClientContext) (AuthResult, error) {
	if username == "" || secret == "" {
		return AuthResult{Reason: ReasonBadCredentials}, nil
	}

	user, err := a.store.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{Reason: ReasonBadCredentials}, nil
		}
		return AuthResult{Reason: ReasonStoreUnavailable}, fmt.Errorf("find user: %w", err)
	}

	fail := func(reason string) AuthResult {
		return AuthResult{Reason: reason, UserID: user.ID}
	}

	// Account-status rules run before credential verification so a locked
	// account never reaches the provider.
	if user.Locked {
		return fail(ReasonAccountLocked), nil
	}
	if !user.Active {
		return fail(ReasonAccountInactive), nil
	}
	if user.HIPAATrained && !user.TrainingExpiry.IsZero() && user.TrainingExpiry.Before(a.now()) {
		return fail(ReasonTrainingExpired), nil
	}

	ok, err := a.provider.VerifyCredentials(ctx, username, secret)
	if err != nil {
		return fail(ReasonStoreUnavailable), fmt.Errorf("identity provider: %w", err)
	}
	if !ok {
		// Single store-side read-modify-write: the count and the lock land
		// in one transaction, so concurrent failures cannot miss the
		// threshold.
		if _, _, err := a.store.Users(ctx).RegisterFailedLogin(ctx, user.ID, a.threshold); err != nil {
			return fail(ReasonStoreUnavailable), fmt.Errorf("register failed login: %w", err)
		}
		return fail(ReasonBadCredentials), nil
	}

	if err := a.store.Users(ctx).RecordLogin(ctx, user.ID, a.now().UTC()); err != nil {
		return fail(ReasonStoreUnavailable), fmt.Errorf("record login: %w", err)
	}

	session, err := a.sessions.Create(ctx, user.ID, client)
	if err != nil {
		if errors.Is(err, ErrSessionLimit) {
			return fail(ReasonSessionLimit), nil
		}
		return fail(ReasonStoreUnavailable), fmt.Errorf("create session: %w", err)
	}

	perms, err := a.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		_ = a.sessions.Invalidate(ctx, session.ID)
		return fail(ReasonStoreUnavailable), fmt.Errorf("resolve permissions: %w", err)
	}

	return AuthResult{
		OK:          true,
		UserID:      user.ID,
		SessionID:   session.ID,
		Permissions: perms.Sorted(),
	}, nil
}

func authMetricLabel(result AuthResult, infraErr error) string {
	switch {
	case infraErr != nil:
		return "error"
	case result.OK:
		return "success"
	case result.Reason == ReasonAccountLocked:
		return "locked"
	case result.Reason == ReasonAccountInactive:
		return "inactive"
	case result.Reason == ReasonTrainingExpired:
		return "training_expired"
	case result.Reason == ReasonSessionLimit:
		return "session_limit"
	default:
		return "bad_credentials"
	}
}
