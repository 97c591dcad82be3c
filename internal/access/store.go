package access

import (
	"context"
	"time"
)

// Store describes persistence operations required by the engine. The store
// is the single source of truth; it must serialize concurrent writers per
// user through its own transactional guarantees.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Sessions(ctx context.Context) SessionStore
}

// UserStore manages principals.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Deactivate soft-disables the account; users are never hard-deleted.
	Deactivate(ctx context.Context, id string) error
	// RecordLogin resets the failed-login counter and stamps LastLogin.
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// RegisterFailedLogin increments the failed-login counter and, when the
	// new count reaches threshold, sets Locked in the same read-modify-write
	// transaction. Returns the new count and whether the account is now
	// locked. Two concurrent failures must never both observe the same
	// pre-increment count.
	RegisterFailedLogin(ctx context.Context, id string, threshold int) (count int, locked bool, err error)
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	Assign(ctx context.Context, assignment RoleAssignment) error
	RemoveAssignment(ctx context.Context, userID, roleID string) error
	Assignments(ctx context.Context, userID string) ([]RoleAssignment, error)
}

// PermissionStore manages the permission catalog and direct grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	Find(ctx context.Context, id string) (*Permission, error)
	List(ctx context.Context) ([]Permission, error)
	Grants(ctx context.Context, userID string) ([]DirectGrant, error)
	PutGrant(ctx context.Context, grant DirectGrant) error
	RemoveGrant(ctx context.Context, userID, permissionID string) error
}

// SessionStore manages session lifecycle state.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	SetStatus(ctx context.Context, id, status string) error
	Touch(ctx context.Context, id string, at time.Time) error
	CountActive(ctx context.Context, userID string, at time.Time) (int, error)
}

// IdentityProvider verifies credentials. The engine never hashes or stores
// secrets itself; that is entirely the provider's concern.
type IdentityProvider interface {
	VerifyCredentials(ctx context.Context, username, secret string) (bool, error)
}
