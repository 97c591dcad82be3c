package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinauth.org/internal/audit"
	"clinauth.org/internal/ids"
)

// Admin performs role and grant administration. Every mutation invalidates
// the resolver cache entry for the affected user, so revocations take
// effect immediately instead of waiting out the cache TTL, and every
// mutation lands in the audit trail attributed to the acting principal.
type Admin struct {
	store    Store
	resolver *Resolver
	recorder audit.Recorder
	now      func() time.Time
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithAdminClock overrides the time source (tests).
func WithAdminClock(fn func() time.Time) AdminOption {
	return func(a *Admin) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAdmin constructs an Admin service.
func NewAdmin(store Store, resolver *Resolver, recorder audit.Recorder, opts ...AdminOption) *Admin {
	a := &Admin{store: store, resolver: resolver, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateUser registers a new active principal.
func (a *Admin) CreateUser(ctx context.Context, actor string, u User) (*User, error) {
	u.Username = strings.TrimSpace(strings.ToLower(u.Username))
	if u.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	now := a.now().UTC()
	u.ID = ids.New()
	u.Active = true
	u.Locked = false
	u.FailedLoginCount = 0
	u.CreatedAt = now
	u.UpdatedAt = now
	if err := a.store.Users(ctx).Create(ctx, &u); err != nil {
		return nil, err
	}
	return &u, a.record(ctx, actor, audit.ActionUserCreate, "user", u.ID)
}

// DeactivateUser soft-disables an account. Audit history referencing the
// user stays intact; there is no hard delete.
func (a *Admin) DeactivateUser(ctx context.Context, actor, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := a.store.Users(ctx).Deactivate(ctx, userID); err != nil {
		return err
	}
	a.resolver.Invalidate(userID)
	return a.record(ctx, actor, audit.ActionUserDeactivate, "user", userID)
}

// CreateRole registers a role, optionally with parent roles.
func (a *Admin) CreateRole(ctx context.Context, actor, name, description string, parentIDs []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := a.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		ParentIDs:   dedupe(parentIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, a.record(ctx, actor, audit.ActionRoleCreate, "role", role.ID)
}

// SetRolePermissions replaces a role's permission list. Affected users are
// not enumerable cheaply, so this change propagates within the cache TTL
// bound rather than through per-user invalidation.
func (a *Admin) SetRolePermissions(ctx context.Context, actor, roleID string, permissionIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if err := a.store.Roles(ctx).SetPermissions(ctx, roleID, dedupe(permissionIDs)); err != nil {
		return err
	}
	return a.record(ctx, actor, audit.ActionRolePermissions, "role", roleID)
}

// AssignRole gives a user a role, optionally until expiresAt.
func (a *Admin) AssignRole(ctx context.Context, actor, userID, roleID string, expiresAt time.Time) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	assignment := RoleAssignment{
		UserID:    userID,
		RoleID:    roleID,
		ExpiresAt: expiresAt,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.Roles(ctx).Assign(ctx, assignment); err != nil {
		return err
	}
	a.resolver.Invalidate(userID)
	return a.record(ctx, actor, audit.ActionRoleAssign, "role", roleID, userID)
}

// RemoveAssignment revokes a role from a user.
func (a *Admin) RemoveAssignment(ctx context.Context, actor, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if err := a.store.Roles(ctx).RemoveAssignment(ctx, userID, roleID); err != nil {
		return err
	}
	a.resolver.Invalidate(userID)
	return a.record(ctx, actor, audit.ActionRoleUnassign, "role", roleID, userID)
}

// PutGrant upserts a direct grant or denial. Denials require a
// justification: an explicit override of role policy has to say why.
func (a *Admin) PutGrant(ctx context.Context, actor string, grant DirectGrant) error {
	grant.UserID = strings.TrimSpace(grant.UserID)
	grant.PermissionID = strings.TrimSpace(grant.PermissionID)
	grant.Justification = strings.TrimSpace(grant.Justification)
	if grant.UserID == "" || grant.PermissionID == "" {
		return fmt.Errorf("%w: user id and permission id are required", ErrInvalidInput)
	}
	if !grant.Granted && grant.Justification == "" {
		return fmt.Errorf("%w: a denial requires a justification", ErrInvalidInput)
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = a.now().UTC()
	}
	if err := a.store.Permissions(ctx).PutGrant(ctx, grant); err != nil {
		return err
	}
	a.resolver.Invalidate(grant.UserID)
	return a.record(ctx, actor, audit.ActionGrantPut, "permission", grant.PermissionID, grant.UserID)
}

// RemoveGrant deletes a direct grant or denial.
func (a *Admin) RemoveGrant(ctx context.Context, actor, userID, permissionID string) error {
	userID, permissionID = strings.TrimSpace(userID), strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return fmt.Errorf("%w: user id and permission id are required", ErrInvalidInput)
	}
	if err := a.store.Permissions(ctx).RemoveGrant(ctx, userID, permissionID); err != nil {
		return err
	}
	a.resolver.Invalidate(userID)
	return a.record(ctx, actor, audit.ActionGrantRemove, "permission", permissionID, userID)
}

func (a *Admin) record(ctx context.Context, actor, action, resourceType, resourceID string, subject ...string) error {
	entry := &audit.Entry{
		UserID:       actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Decision:     audit.DecisionGranted,
	}
	if len(subject) > 0 {
		entry.Reason = "subject user " + subject[0]
	}
	return a.recorder.Record(ctx, entry)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
