package httpapi

import (
	"context"
	"sync"
	"time"

	"clinauth.org/internal/access"
	"clinauth.org/internal/audit"
)

// fakeStore backs the API tests with an in-memory access.Store.
type fakeStore struct {
	mu sync.Mutex

	users       map[string]*access.User
	usersByName map[string]string
	roles       map[string]*access.Role
	perms       map[string]*access.Permission
	rolePerms   map[string][]string
	assignments map[string][]access.RoleAssignment
	grants      map[string]map[string]access.DirectGrant
	sessions    map[string]*access.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*access.User),
		usersByName: make(map[string]string),
		roles:       make(map[string]*access.Role),
		perms:       make(map[string]*access.Permission),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string][]access.RoleAssignment),
		grants:      make(map[string]map[string]access.DirectGrant),
		sessions:    make(map[string]*access.Session),
	}
}

func (s *fakeStore) Users(ctx context.Context) access.UserStore             { return fakeUsers{s} }
func (s *fakeStore) Roles(ctx context.Context) access.RoleStore             { return fakeRoles{s} }
func (s *fakeStore) Permissions(ctx context.Context) access.PermissionStore { return fakePerms{s} }
func (s *fakeStore) Sessions(ctx context.Context) access.SessionStore       { return fakeSessions{s} }

func (s *fakeStore) addUser(u access.User) *access.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
	s.usersByName[u.Username] = u.ID
	return &cp
}

func (s *fakeStore) addRole(r access.Role, permIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.roles[r.ID] = &cp
	s.rolePerms[r.ID] = permIDs
}

func (s *fakeStore) assign(a access.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.UserID] = append(s.assignments[a.UserID], a)
}

func (s *fakeStore) putGrant(g access.DirectGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.UserID] == nil {
		s.grants[g.UserID] = make(map[string]access.DirectGrant)
	}
	s.grants[g.UserID][g.PermissionID] = g
}

type fakeUsers struct{ s *fakeStore }

func (m fakeUsers) Create(ctx context.Context, u *access.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.usersByName[u.Username]; ok {
		return access.ErrConflict
	}
	cp := *u
	m.s.users[u.ID] = &cp
	m.s.usersByName[u.Username] = u.ID
	return nil
}

func (m fakeUsers) Find(ctx context.Context, id string) (*access.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m fakeUsers) FindByUsername(ctx context.Context, username string) (*access.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.usersByName[username]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *m.s.users[id]
	return &cp, nil
}

func (m fakeUsers) Deactivate(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return access.ErrNotFound
	}
	u.Active = false
	return nil
}

func (m fakeUsers) RecordLogin(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return access.ErrNotFound
	}
	u.FailedLoginCount = 0
	u.LastLogin = at
	return nil
}

func (m fakeUsers) RegisterFailedLogin(ctx context.Context, id string, threshold int) (int, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return 0, false, access.ErrNotFound
	}
	u.FailedLoginCount++
	if u.FailedLoginCount >= threshold {
		u.Locked = true
	}
	return u.FailedLoginCount, u.Locked, nil
}

type fakeRoles struct{ s *fakeStore }

func (m fakeRoles) Create(ctx context.Context, role *access.Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *role
	m.s.roles[role.ID] = &cp
	return nil
}

func (m fakeRoles) Find(ctx context.Context, id string) (*access.Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.roles[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m fakeRoles) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.roles[roleID]; !ok {
		return access.ErrNotFound
	}
	m.s.rolePerms[roleID] = permissionIDs
	return nil
}

func (m fakeRoles) PermissionsForRole(ctx context.Context, roleID string) ([]access.Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []access.Permission
	for _, id := range m.s.rolePerms[roleID] {
		if p, ok := m.s.perms[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m fakeRoles) Assign(ctx context.Context, a access.RoleAssignment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.assignments[a.UserID] = append(m.s.assignments[a.UserID], a)
	return nil
}

func (m fakeRoles) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	list := m.s.assignments[userID]
	for i, a := range list {
		if a.RoleID == roleID {
			m.s.assignments[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return access.ErrNotFound
}

func (m fakeRoles) Assignments(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]access.RoleAssignment(nil), m.s.assignments[userID]...), nil
}

type fakePerms struct{ s *fakeStore }

func (m fakePerms) Ensure(ctx context.Context, perms []access.Permission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.s.perms[p.ID]; !ok {
			cp := p
			m.s.perms[p.ID] = &cp
		}
	}
	return nil
}

func (m fakePerms) Find(ctx context.Context, id string) (*access.Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.perms[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m fakePerms) List(ctx context.Context) ([]access.Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []access.Permission
	for _, p := range m.s.perms {
		out = append(out, *p)
	}
	return out, nil
}

func (m fakePerms) Grants(ctx context.Context, userID string) ([]access.DirectGrant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []access.DirectGrant
	for _, g := range m.s.grants[userID] {
		out = append(out, g)
	}
	return out, nil
}

func (m fakePerms) PutGrant(ctx context.Context, g access.DirectGrant) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.grants[g.UserID] == nil {
		m.s.grants[g.UserID] = make(map[string]access.DirectGrant)
	}
	m.s.grants[g.UserID][g.PermissionID] = g
	return nil
}

func (m fakePerms) RemoveGrant(ctx context.Context, userID, permissionID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.grants[userID][permissionID]; !ok {
		return access.ErrNotFound
	}
	delete(m.s.grants[userID], permissionID)
	return nil
}

type fakeSessions struct{ s *fakeStore }

func (m fakeSessions) Create(ctx context.Context, sess *access.Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *sess
	m.s.sessions[sess.ID] = &cp
	return nil
}

func (m fakeSessions) Find(ctx context.Context, id string) (*access.Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok {
		return nil, access.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m fakeSessions) SetStatus(ctx context.Context, id, status string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok {
		return access.ErrSessionNotFound
	}
	sess.Status = status
	return nil
}

func (m fakeSessions) Touch(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if sess, ok := m.s.sessions[id]; ok {
		sess.LastActivity = at
	}
	return nil
}

func (m fakeSessions) CountActive(ctx context.Context, userID string, at time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, sess := range m.s.sessions {
		if sess.UserID == userID && sess.Status == access.SessionActive && sess.ExpiresAt.After(at) {
			n++
		}
	}
	return n, nil
}

// fakeAuditStore is an in-memory audit.Store.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *fakeAuditStore) Head(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "", nil
	}
	return s.entries[len(s.entries)-1].Hash, nil
}

func (s *fakeAuditStore) Append(ctx context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *fakeAuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Decision != "" && e.Decision != f.Decision {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
