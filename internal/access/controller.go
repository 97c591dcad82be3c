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

// Controller combines session validation, permission resolution and context
// rules into a single authorize/deny decision. Every check writes exactly
// one audit entry, whatever the outcome.
type Controller struct {
	store    Store
	sessions *SessionManager
	resolver *Resolver
	recorder audit.Recorder

	failClosed           bool
	requireJustification bool
	now                  func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithFailOpenAudit restores the reference behavior of logging audit write
// failures without reversing the decision. The default is fail-closed:
// compliance completeness over availability.
func WithFailOpenAudit() ControllerOption {
	return func(c *Controller) { c.failClosed = false }
}

// WithOptionalEmergencyJustification disables the requirement that
// break-glass requests carry a justification.
func WithOptionalEmergencyJustification() ControllerOption {
	return func(c *Controller) { c.requireJustification = false }
}

// WithControllerClock overrides the time source (tests).
func WithControllerClock(fn func() time.Time) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewController constructs a Controller. Defaults: audit fail-closed,
// emergency justification required.
func NewController(store Store, sessions *SessionManager, resolver *Resolver, recorder audit.Recorder, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:                store,
		sessions:             sessions,
		resolver:             resolver,
		recorder:             recorder,
		failClosed:           true,
		requireJustification: true,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check answers one authorization question. The Decision is the security
// outcome; a non-nil error reports infrastructure failure only and is never
// paired with a granted decision.
func (c *Controller) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	start := c.now()

	decision, evaluated, infraErr := c.evaluate(ctx, req)

	entry := &audit.Entry{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Action:        audit.ActionAccessCheck,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		Decision:      audit.DecisionDenied,
		Reason:        decision.Reason,
		Permissions:   evaluated,
		PHIAccessed:   req.PHIContext && decision.Granted,
		PHICategories: req.PHICategories,
		Emergency:     req.Emergency,
		LatencyMS:     c.now().Sub(start).Milliseconds(),
	}
	if decision.Granted {
		entry.Decision = audit.DecisionGranted
	}

	// The audit write is part of the decision: under fail-closed a grant
	// that cannot be recorded is withdrawn. A timed-out request still gets
	// a best-effort write on a detached short deadline.
	auditCtx := ctx
	if decision.Reason == ReasonTimeout {
		var cancel context.CancelFunc
		auditCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
	}
	if err := c.recorder.Record(auditCtx, entry); err != nil && c.failClosed && decision.Granted {
		decision = Deny(ReasonAuditUnavailable)
	}

	obs.ObserveDecision(decision.Granted, decision.Reason, c.now().Sub(start))
	return decision, infraErr
}

// evaluate runs the ordered decision algorithm, short-circuiting on the
// first failing step. Returned evaluated lists the permission ids consulted.
func (c *Controller) evaluate(ctx context.Context, req CheckRequest) (Decision, []string, error) {
	evaluated := []string{req.PermissionID}

	if req.PermissionID == "" || req.UserID == "" {
		return Deny(ReasonNotGranted), evaluated, nil
	}
	if timedOut(ctx, nil) {
		return Deny(ReasonTimeout), evaluated, nil
	}

	// 1. Session.
	if err := c.sessions.Validate(ctx, req.SessionID, req.UserID); err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound),
			errors.Is(err, ErrSessionExpired),
			errors.Is(err, ErrSessionInvalidated):
			return Deny(ReasonInvalidSession), evaluated, nil
		case timedOut(ctx, err):
			return Deny(ReasonTimeout), evaluated, nil
		default:
			return Deny(ReasonStoreUnavailable), evaluated, fmt.Errorf("validate session: %w", err)
		}
	}

	// 2. Membership in the effective set.
	perms, err := c.resolver.EffectivePermissions(ctx, req.UserID)
	if err != nil {
		if timedOut(ctx, err) {
			return Deny(ReasonTimeout), evaluated, nil
		}
		return Deny(ReasonStoreUnavailable), evaluated, fmt.Errorf("resolve permissions: %w", err)
	}
	if !perms.Has(req.PermissionID) {
		return Deny(ReasonNotGranted), evaluated, nil
	}

	// 3. PHI context gate: only a permission carrying the PHI flag can
	// satisfy a PHI-context request, regardless of role seniority.
	if req.PHIContext {
		perm, err := c.store.Permissions(ctx).Find(ctx, req.PermissionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Deny(ReasonNotGranted), evaluated, nil
			}
			if timedOut(ctx, err) {
				return Deny(ReasonTimeout), evaluated, nil
			}
			return Deny(ReasonStoreUnavailable), evaluated, fmt.Errorf("load permission: %w", err)
		}
		if !perm.PHIAccess {
			return Deny(ReasonPHINotAuthorized), evaluated, nil
		}
	}

	// 4. Emergency (break-glass) gate: granted, but distinctly audited, and
	// by default only with a justification on record.
	if req.Emergency && c.requireJustification && strings.TrimSpace(req.Justification) == "" {
		return Deny(ReasonNoJustification), evaluated, nil
	}

	return Grant(), evaluated, nil
}

// timedOut reports whether the request deadline has been exceeded, either
// directly on the context or wrapped inside a store error.
func timedOut(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}
