package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinauth.org/internal/access"
	"clinauth.org/internal/idp"
)

func (s *Store) Users(ctx context.Context) access.UserStore             { return users{db: s.db} }
func (s *Store) Roles(ctx context.Context) access.RoleStore             { return roles{db: s.db} }
func (s *Store) Permissions(ctx context.Context) access.PermissionStore { return permissions{db: s.db} }
func (s *Store) Sessions(ctx context.Context) access.SessionStore       { return sessions{db: s.db} }

var _ idp.CredentialSource = (*Store)(nil)

// PasswordHash returns the stored argon2id hash for the username.
func (s *Store) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		select password_hash from credentials where username = $1
	`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", idp.ErrNoCredentials
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// SetPassword upserts the credential row for the username.
func (s *Store) SetPassword(ctx context.Context, username, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into credentials (username, password_hash)
		values ($1, $2)
		on conflict (username) do update
		set password_hash = excluded.password_hash, updated_at = now()
	`, username, hash)
	return mapWriteError(err)
}

// --- users ---

type users struct {
	db *sql.DB
}

func (u users) Create(ctx context.Context, user *access.User) error {
	row := u.db.QueryRowContext(ctx, `
		insert into users (id, username, display_name, active, locked, failed_login_count, hipaa_trained, training_expiry)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, user.ID, user.Username, user.DisplayName, user.Active, user.Locked,
		user.FailedLoginCount, user.HIPAATrained, nullTime(user.TrainingExpiry))
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

const userColumns = `id, username, display_name, active, locked, failed_login_count, hipaa_trained, training_expiry, last_login, created_at, updated_at`

func scanUser(row *sql.Row) (*access.User, error) {
	var (
		user     access.User
		training sql.NullTime
		last     sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.Active, &user.Locked,
		&user.FailedLoginCount, &user.HIPAATrained, &training, &last, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.TrainingExpiry = fromNullTime(training)
	user.LastLogin = fromNullTime(last)
	return &user, nil
}

func (u users) Find(ctx context.Context, id string) (*access.User, error) {
	return scanUser(u.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

func (u users) FindByUsername(ctx context.Context, username string) (*access.User, error) {
	return scanUser(u.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username = $1`, username))
}

func (u users) Deactivate(ctx context.Context, id string) error {
	res, err := u.db.ExecContext(ctx, `
		update users set active = false, updated_at = now() where id = $1
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (u users) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := u.db.ExecContext(ctx, `
		update users
		set failed_login_count = 0, last_login = $2, updated_at = now()
		where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

// RegisterFailedLogin increments the counter and flips the lock in one
// statement, so two concurrent failures can never both read the same
// pre-increment count.
func (u users) RegisterFailedLogin(ctx context.Context, id string, threshold int) (int, bool, error) {
	var (
		count  int
		locked bool
	)
	err := u.db.QueryRowContext(ctx, `
		update users
		set failed_login_count = failed_login_count + 1,
		    locked = locked or (failed_login_count + 1 >= $2),
		    updated_at = now()
		where id = $1
		returning failed_login_count, locked
	`, id, threshold).Scan(&count, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, access.ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}
	return count, locked, nil
}

// --- roles ---

type roles struct {
	db *sql.DB
}

func (r roles) Create(ctx context.Context, role *access.Role) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, role.ID, role.Name, role.Description)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	for _, parent := range role.ParentIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_parents (role_id, parent_id) values ($1, $2)
		`, role.ID, parent); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (r roles) Find(ctx context.Context, id string) (*access.Role, error) {
	var role access.Role
	err := r.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		select parent_id from role_parents where role_id = $1 order by parent_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, err
		}
		role.ParentIDs = append(role.ParentIDs, parent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}

func (r roles) SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", access.ErrNotFound, permID)
			}
			return err
		}
	}
	return tx.Commit()
}

func (r roles) PermissionsForRole(ctx context.Context, roleID string) ([]access.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select p.id, p.resource, p.action, p.phi_access, p.emergency_access, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []access.Permission
	for rows.Next() {
		var p access.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.PHIAccess, &p.EmergencyAccess, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (r roles) Assign(ctx context.Context, a access.RoleAssignment) error {
	_, err := r.db.ExecContext(ctx, `
		insert into role_assignments (user_id, role_id, expires_at, created_at)
		values ($1, $2, $3, $4)
		on conflict (user_id, role_id) do update
		set expires_at = excluded.expires_at
	`, a.UserID, a.RoleID, nullTime(a.ExpiresAt), a.CreatedAt)
	return mapWriteError(err)
}

func (r roles) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx, `
		delete from role_assignments where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (r roles) Assignments(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		select user_id, role_id, expires_at, created_at
		from role_assignments
		where user_id = $1
		order by role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.RoleAssignment
	for rows.Next() {
		var (
			a   access.RoleAssignment
			exp sql.NullTime
		)
		if err := rows.Scan(&a.UserID, &a.RoleID, &exp, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ExpiresAt = fromNullTime(exp)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// --- permissions ---

type permissions struct {
	db *sql.DB
}

func (p permissions) Ensure(ctx context.Context, perms []access.Permission) error {
	for _, perm := range perms {
		if _, err := p.db.ExecContext(ctx, `
			insert into permissions (id, resource, action, phi_access, emergency_access, description)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (id) do nothing
		`, perm.ID, perm.Resource, perm.Action, perm.PHIAccess, perm.EmergencyAccess, perm.Description); err != nil {
			return err
		}
	}
	return nil
}

func (p permissions) Find(ctx context.Context, id string) (*access.Permission, error) {
	var perm access.Permission
	err := p.db.QueryRowContext(ctx, `
		select id, resource, action, phi_access, emergency_access, description, created_at
		from permissions where id = $1
	`, id).Scan(&perm.ID, &perm.Resource, &perm.Action, &perm.PHIAccess, &perm.EmergencyAccess, &perm.Description, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

func (p permissions) List(ctx context.Context) ([]access.Permission, error) {
	rows, err := p.db.QueryContext(ctx, `
		select id, resource, action, phi_access, emergency_access, description, created_at
		from permissions order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []access.Permission
	for rows.Next() {
		var perm access.Permission
		if err := rows.Scan(&perm.ID, &perm.Resource, &perm.Action, &perm.PHIAccess, &perm.EmergencyAccess, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (p permissions) Grants(ctx context.Context, userID string) ([]access.DirectGrant, error) {
	rows, err := p.db.QueryContext(ctx, `
		select user_id, permission_id, granted, justification, expires_at, created_at
		from direct_grants
		where user_id = $1
		order by permission_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []access.DirectGrant
	for rows.Next() {
		var (
			g   access.DirectGrant
			exp sql.NullTime
		)
		if err := rows.Scan(&g.UserID, &g.PermissionID, &g.Granted, &g.Justification, &exp, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.ExpiresAt = fromNullTime(exp)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (p permissions) PutGrant(ctx context.Context, g access.DirectGrant) error {
	_, err := p.db.ExecContext(ctx, `
		insert into direct_grants (user_id, permission_id, granted, justification, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id, permission_id) do update
		set granted = excluded.granted,
		    justification = excluded.justification,
		    expires_at = excluded.expires_at
	`, g.UserID, g.PermissionID, g.Granted, g.Justification, nullTime(g.ExpiresAt), g.CreatedAt)
	return mapWriteError(err)
}

func (p permissions) RemoveGrant(ctx context.Context, userID, permissionID string) error {
	res, err := p.db.ExecContext(ctx, `
		delete from direct_grants where user_id = $1 and permission_id = $2
	`, userID, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

// --- sessions ---

type sessions struct {
	db *sql.DB
}

func (s sessions) Create(ctx context.Context, sess *access.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, ip, user_agent, created_at, last_activity, expires_at, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.UserID, sess.Client.IP, sess.Client.UserAgent,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt, sess.Status)
	return mapWriteError(err)
}

func (s sessions) Find(ctx context.Context, id string) (*access.Session, error) {
	var sess access.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, ip, user_agent, created_at, last_activity, expires_at, status
		from sessions where id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.Client.IP, &sess.Client.UserAgent,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt, &sess.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s sessions) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set status = $2 where id = $1
	`, id, status)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrSessionNotFound
	}
	return nil
}

func (s sessions) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions set last_activity = $2 where id = $1
	`, id, at)
	return err
}

func (s sessions) CountActive(ctx context.Context, userID string, at time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from sessions
		where user_id = $1 and status = $2 and expires_at > $3
	`, userID, access.SessionActive, at).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
