package pg

import (
	"context"
	"fmt"
)

var schemaDDL = []string{
	`create table if not exists users (
		id text primary key,
		username text not null unique,
		display_name text not null default '',
		active boolean not null default true,
		locked boolean not null default false,
		failed_login_count integer not null default 0,
		hipaa_trained boolean not null default false,
		training_expiry timestamptz,
		last_login timestamptz,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists credentials (
		username text primary key references users(username) on delete cascade,
		password_hash text not null,
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists roles (
		id text primary key,
		name text not null unique,
		description text not null default '',
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists role_parents (
		role_id text not null references roles(id) on delete cascade,
		parent_id text not null references roles(id) on delete cascade,
		primary key (role_id, parent_id)
	)`,
	`create table if not exists permissions (
		id text primary key,
		resource text not null,
		action text not null,
		phi_access boolean not null default false,
		emergency_access boolean not null default false,
		description text not null default '',
		created_at timestamptz not null default now()
	)`,
	`create table if not exists role_permissions (
		role_id text not null references roles(id) on delete cascade,
		permission_id text not null references permissions(id) on delete cascade,
		primary key (role_id, permission_id)
	)`,
	`create table if not exists role_assignments (
		user_id text not null references users(id) on delete cascade,
		role_id text not null references roles(id) on delete cascade,
		expires_at timestamptz,
		created_at timestamptz not null default now(),
		primary key (user_id, role_id)
	)`,
	`create table if not exists direct_grants (
		user_id text not null references users(id) on delete cascade,
		permission_id text not null references permissions(id) on delete cascade,
		granted boolean not null,
		justification text not null default '',
		expires_at timestamptz,
		created_at timestamptz not null default now(),
		primary key (user_id, permission_id)
	)`,
	`create table if not exists sessions (
		id text primary key,
		user_id text not null references users(id) on delete cascade,
		ip text not null default '',
		user_agent text not null default '',
		created_at timestamptz not null default now(),
		last_activity timestamptz not null default now(),
		expires_at timestamptz not null,
		status text not null default 'active'
	)`,
	`create index if not exists sessions_user_status_idx on sessions (user_id, status)`,
	`create table if not exists audit_log (
		seq bigserial primary key,
		id text not null unique,
		ts timestamptz not null,
		user_id text not null,
		session_id text not null default '',
		action text not null,
		resource_type text not null default '',
		resource_id text not null default '',
		decision text not null,
		reason text not null default '',
		permissions jsonb,
		phi_accessed boolean not null default false,
		phi_categories jsonb,
		emergency boolean not null default false,
		latency_ms bigint not null default 0,
		prev_hash text not null,
		hash text not null
	)`,
	`create index if not exists audit_log_user_ts_idx on audit_log (user_id, ts)`,
	`create index if not exists audit_log_ts_idx on audit_log (ts)`,
}

// EnsureSchema creates missing tables and indexes. All statements are
// idempotent; running against an existing database is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
