package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrConflict     = errors.New("access: already exists")
	ErrInvalidInput = errors.New("access: invalid input")

	// Session validation sentinels. These surface to callers only through
	// denied decisions; the specific cause is preserved for the audit trail.
	ErrSessionNotFound    = errors.New("access: session not found")
	ErrSessionExpired     = errors.New("access: session expired")
	ErrSessionInvalidated = errors.New("access: session invalidated")
	ErrSessionLimit       = errors.New("access: session limit reached")
)

// Deny reasons recorded in audit entries. Operator-facing; surfaces to the
// denied end-user only as GenericDenied.
const (
	ReasonGranted          = "access granted"
	ReasonInvalidSession   = "invalid or expired session"
	ReasonNotGranted       = "permission not granted"
	ReasonPHINotAuthorized = "phi access not authorized"
	ReasonNoJustification  = "emergency justification required"
	ReasonTimeout          = "timeout"
	ReasonAuditUnavailable = "audit unavailable"
	ReasonStoreUnavailable = "store unavailable"

	ReasonAccountLocked   = "account locked"
	ReasonAccountInactive = "account inactive"
	ReasonTrainingExpired = "training expired"
	ReasonBadCredentials  = "invalid credentials"
	ReasonSessionLimit    = "session limit reached"
)

// GenericDenied is the only denial text safe to show a denied end-user;
// specific reasons would leak role and permission topology.
const GenericDenied = "access denied"
