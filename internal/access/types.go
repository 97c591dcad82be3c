package access

import (
	"sort"
	"time"
)

// User is a principal that can authenticate and hold permissions.
// Users are never hard-deleted while audit history references them;
// administrative removal is a soft deactivate.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name,omitempty"`
	Active           bool      `json:"active"`
	Locked           bool      `json:"locked"`
	FailedLoginCount int       `json:"failed_login_count"`
	HIPAATrained     bool      `json:"hipaa_trained"`
	TrainingExpiry   time.Time `json:"training_expiry,omitempty"`
	LastLogin        time.Time `json:"last_login,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Role groups permissions. ParentIDs declare an inheritance hierarchy that
// resolution walks transitively (cycle-safe).
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentIDs   []string  `json:"parent_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability. Permissions are immutable once
// referenced by audit history; changed semantics require a new id.
type Permission struct {
	ID              string    `json:"id"`
	Resource        string    `json:"resource"`
	Action          string    `json:"action"`
	PHIAccess       bool      `json:"phi_access"`
	EmergencyAccess bool      `json:"emergency_access"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RoleAssignment links a user to a role, optionally until ExpiresAt.
// A zero ExpiresAt means the assignment never expires.
type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the assignment is outside its validity window.
func (a RoleAssignment) ExpiredAt(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// DirectGrant attaches a permission directly to a user. Granted=false is an
// explicit denial, which always wins over any grant, role-derived included.
type DirectGrant struct {
	UserID        string    `json:"user_id"`
	PermissionID  string    `json:"permission_id"`
	Granted       bool      `json:"granted"`
	Justification string    `json:"justification,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExpiredAt reports whether the grant is outside its validity window.
func (g DirectGrant) ExpiredAt(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// ClientContext carries request provenance captured at login time.
type ClientContext struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Session lifecycle states. A session starts active and ends in exactly one
// of the terminal states.
const (
	SessionActive      = "active"
	SessionExpired     = "expired"
	SessionInvalidated = "invalidated"
)

// Session is a server-side login session with a fixed, non-sliding expiry.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Client       ClientContext `json:"client"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Status       string        `json:"status"`
}

// LiveAt reports whether the session is usable at the given instant.
func (s *Session) LiveAt(now time.Time) bool {
	return s.Status == SessionActive && !now.After(s.ExpiresAt)
}

// PermissionSet is a resolved effective permission set keyed by permission id.
type PermissionSet map[string]struct{}

// Has reports membership.
func (s PermissionSet) Has(permissionID string) bool {
	_, ok := s[permissionID]
	return ok
}

// Sorted returns the permission ids in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Decision is the single security outcome type. Security results are always
// values, never errors, so a denial cannot be lost to error fallthrough.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

// Grant returns an allowing decision.
func Grant() Decision { return Decision{Granted: true, Reason: ReasonGranted} }

// Deny returns a denying decision with the given reason.
func Deny(reason string) Decision { return Decision{Granted: false, Reason: reason} }

// AuthResult is the value outcome of an authentication attempt.
type AuthResult struct {
	OK          bool     `json:"ok"`
	Reason      string   `json:"reason,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CheckRequest describes one authorization question put to the controller.
type CheckRequest struct {
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id"`
	PermissionID  string   `json:"permission_id"`
	ResourceType  string   `json:"resource_type,omitempty"`
	ResourceID    string   `json:"resource_id,omitempty"`
	PHIContext    bool     `json:"phi_context,omitempty"`
	PHICategories []string `json:"phi_categories,omitempty"`
	Emergency     bool     `json:"emergency,omitempty"`
	Justification string   `json:"justification,omitempty"`
}
