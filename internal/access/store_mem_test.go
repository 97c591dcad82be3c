package access

import (
	"context"
	"sync"
	"time"

	"clinauth.org/internal/audit"
)

// memStore is the in-memory Store used across the package tests. Setting
// failWith makes every operation return that error, simulating an outage.
type memStore struct {
	mu sync.Mutex

	users       map[string]*User
	usersByName map[string]string
	roles       map[string]*Role
	perms       map[string]*Permission
	rolePerms   map[string][]string
	assignments map[string][]RoleAssignment
	grants      map[string]map[string]DirectGrant
	sessions    map[string]*Session

	failWith error
	calls    map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*User),
		usersByName: make(map[string]string),
		roles:       make(map[string]*Role),
		perms:       make(map[string]*Permission),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string][]RoleAssignment),
		grants:      make(map[string]map[string]DirectGrant),
		sessions:    make(map[string]*Session),
		calls:       make(map[string]int),
	}
}

func (s *memStore) Users(ctx context.Context) UserStore             { return memUsers{s} }
func (s *memStore) Roles(ctx context.Context) RoleStore             { return memRoles{s} }
func (s *memStore) Permissions(ctx context.Context) PermissionStore { return memPerms{s} }
func (s *memStore) Sessions(ctx context.Context) SessionStore       { return memSessions{s} }

func (s *memStore) count(op string) error {
	s.calls[op]++
	return s.failWith
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// seed helpers

func (s *memStore) addUser(u User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
	s.usersByName[u.Username] = u.ID
	return &cp
}

func (s *memStore) addRole(r Role, permIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.roles[r.ID] = &cp
	s.rolePerms[r.ID] = permIDs
}

func (s *memStore) addPerm(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.perms[p.ID] = &cp
}

func (s *memStore) assign(a RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.UserID] = append(s.assignments[a.UserID], a)
}

func (s *memStore) putGrant(g DirectGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.UserID] == nil {
		s.grants[g.UserID] = make(map[string]DirectGrant)
	}
	s.grants[g.UserID][g.PermissionID] = g
}

// --- users ---

type memUsers struct{ s *memStore }

func (m memUsers) Create(ctx context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("users.create"); err != nil {
		return err
	}
	if _, ok := m.s.usersByName[u.Username]; ok {
		return ErrConflict
	}
	cp := *u
	m.s.users[u.ID] = &cp
	m.s.usersByName[u.Username] = u.ID
	return nil
}

func (m memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("users.find"); err != nil {
		return nil, err
	}
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("users.findByUsername"); err != nil {
		return nil, err
	}
	id, ok := m.s.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.users[id]
	return &cp, nil
}

func (m memUsers) Deactivate(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("users.deactivate"); err != nil {
		return err
	}
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = false
	return nil
}

func (m memUsers) RecordLogin(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("users.recordLogin"); err != nil {
		return err
	}
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginCount = 0
	u.LastLogin = at
	return nil
}

func (m memUsers) RegisterFailedLogin(ctx context.Context, id string, threshold int) (int, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("users.registerFailedLogin"); err != nil {
		return 0, false, err
	}
	u, ok := m.s.users[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	u.FailedLoginCount++
	if u.FailedLoginCount >= threshold {
		u.Locked = true
	}
	return u.FailedLoginCount, u.Locked, nil
}

// --- roles ---

type memRoles struct{ s *memStore }

func (m memRoles) Create(ctx context.Context, role *Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.create"); err != nil {
		return err
	}
	cp := *role
	m.s.roles[role.ID] = &cp
	return nil
}

func (m memRoles) Find(ctx context.Context, id string) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.find"); err != nil {
		return nil, err
	}
	r, ok := m.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m memRoles) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.setPermissions"); err != nil {
		return err
	}
	if _, ok := m.s.roles[roleID]; !ok {
		return ErrNotFound
	}
	m.s.rolePerms[roleID] = permissionIDs
	return nil
}

func (m memRoles) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.permissionsForRole"); err != nil {
		return nil, err
	}
	var out []Permission
	for _, id := range m.s.rolePerms[roleID] {
		if p, ok := m.s.perms[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memRoles) Assign(ctx context.Context, a RoleAssignment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.assign"); err != nil {
		return err
	}
	m.s.assignments[a.UserID] = append(m.s.assignments[a.UserID], a)
	return nil
}

func (m memRoles) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.removeAssignment"); err != nil {
		return err
	}
	list := m.s.assignments[userID]
	for i, a := range list {
		if a.RoleID == roleID {
			m.s.assignments[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m memRoles) Assignments(ctx context.Context, userID string) ([]RoleAssignment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("roles.assignments"); err != nil {
		return nil, err
	}
	return append([]RoleAssignment(nil), m.s.assignments[userID]...), nil
}

// --- permissions ---

type memPerms struct{ s *memStore }

func (m memPerms) Ensure(ctx context.Context, perms []Permission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("perms.ensure"); err != nil {
		return err
	}
	for _, p := range perms {
		if _, ok := m.s.perms[p.ID]; !ok {
			cp := p
			m.s.perms[p.ID] = &cp
		}
	}
	return nil
}

func (m memPerms) Find(ctx context.Context, id string) (*Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("perms.find"); err != nil {
		return nil, err
	}
	p, ok := m.s.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m memPerms) List(ctx context.Context) ([]Permission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("perms.list"); err != nil {
		return nil, err
	}
	var out []Permission
	for _, p := range m.s.perms {
		out = append(out, *p)
	}
	return out, nil
}

func (m memPerms) Grants(ctx context.Context, userID string) ([]DirectGrant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("perms.grants"); err != nil {
		return nil, err
	}
	var out []DirectGrant
	for _, g := range m.s.grants[userID] {
		out = append(out, g)
	}
	return out, nil
}

func (m memPerms) PutGrant(ctx context.Context, g DirectGrant) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("perms.putGrant"); err != nil {
		return err
	}
	if m.s.grants[g.UserID] == nil {
		m.s.grants[g.UserID] = make(map[string]DirectGrant)
	}
	m.s.grants[g.UserID][g.PermissionID] = g
	return nil
}

func (m memPerms) RemoveGrant(ctx context.Context, userID, permissionID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("perms.removeGrant"); err != nil {
		return err
	}
	if _, ok := m.s.grants[userID][permissionID]; !ok {
		return ErrNotFound
	}
	delete(m.s.grants[userID], permissionID)
	return nil
}

// --- sessions ---

type memSessions struct{ s *memStore }

func (m memSessions) Create(ctx context.Context, sess *Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("sessions.create"); err != nil {
		return err
	}
	cp := *sess
	m.s.sessions[sess.ID] = &cp
	return nil
}

func (m memSessions) Find(ctx context.Context, id string) (*Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("sessions.find"); err != nil {
		return nil, err
	}
	sess, ok := m.s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m memSessions) SetStatus(ctx context.Context, id, status string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("sessions.setStatus"); err != nil {
		return err
	}
	sess, ok := m.s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = status
	return nil
}

func (m memSessions) Touch(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("sessions.touch"); err != nil {
		return err
	}
	if sess, ok := m.s.sessions[id]; ok {
		sess.LastActivity = at
	}
	return nil
}

func (m memSessions) CountActive(ctx context.Context, userID string, at time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.count("sessions.countActive"); err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range m.s.sessions {
		if sess.UserID == userID && sess.Status == SessionActive && sess.ExpiresAt.After(at) {
			n++
		}
	}
	return n, nil
}

// memRecorder collects audit entries; failWith simulates audit outage.
type memRecorder struct {
	mu       sync.Mutex
	entries  []audit.Entry
	failWith error
}

func (r *memRecorder) Record(ctx context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memRecorder) last() *audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	e := r.entries[len(r.entries)-1]
	return &e
}

func (r *memRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// staticProvider verifies credentials from a fixed map.
type staticProvider map[string]string

func (p staticProvider) VerifyCredentials(ctx context.Context, username, secret string) (bool, error) {
	stored, ok := p[username]
	return ok && stored == secret, nil
}

// fixedClock returns a function pinned to t; advance moves it.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
