package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clinauth.org/internal/audit"
)

// AuditStore implements the durable append-only audit backend over the
// audit_log table. Insertion order is fixed by the seq column; the hash
// chain is sealed by the logger before Append is called.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// Audit returns the audit backend sharing this store's pool.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

// NewAuditStore wraps an existing handle. Tests use it with sqlmock.
func NewAuditStore(db *sql.DB) *AuditStore { return &AuditStore{db: db} }

func (a *AuditStore) Head(ctx context.Context) (string, error) {
	var hash string
	err := a.db.QueryRowContext(ctx, `
		select hash from audit_log order by seq desc limit 1
	`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (a *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	perms, err := marshalList(e.Permissions)
	if err != nil {
		return err
	}
	cats, err := marshalList(e.PHICategories)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		insert into audit_log (id, ts, user_id, session_id, action, resource_type, resource_id,
			decision, reason, permissions, phi_accessed, phi_categories, emergency, latency_ms,
			prev_hash, hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, e.ID, e.Timestamp, e.UserID, e.SessionID, e.Action, e.ResourceType, e.ResourceID,
		e.Decision, e.Reason, perms, e.PHIAccessed, cats, e.Emergency, e.LatencyMS,
		e.PrevHash, e.Hash)
	return err
}

// Query builds a WHERE clause from the non-zero filter fields and returns
// matching entries in chain order.
func (a *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		clauses []string
		args    []any
		idx     = 1
	)
	add := func(expr string, val any) {
		clauses = append(clauses, fmt.Sprintf(expr, idx))
		args = append(args, val)
		idx++
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if !f.Since.IsZero() {
		add("ts >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("ts <= $%d", f.Until)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Decision != "" {
		add("decision = $%d", f.Decision)
	}
	if f.PHIOnly {
		clauses = append(clauses, "phi_accessed")
	}
	if f.EmergencyOnly {
		clauses = append(clauses, "emergency")
	}

	query := `select id, ts, user_id, session_id, action, resource_type, resource_id,
		decision, reason, permissions, phi_accessed, phi_categories, emergency, latency_ms,
		prev_hash, hash
		from audit_log`
	if len(clauses) > 0 {
		query += " where " + strings.Join(clauses, " and ")
	}
	query += fmt.Sprintf(" order by seq asc limit $%d offset $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			perms []byte
			cats  []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.SessionID, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.Decision, &e.Reason, &perms,
			&e.PHIAccessed, &cats, &e.Emergency, &e.LatencyMS, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		if e.Permissions, err = unmarshalList(perms); err != nil {
			return nil, err
		}
		if e.PHICategories, err = unmarshalList(cats); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func marshalList(vals []string) (any, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return nil, fmt.Errorf("marshal audit list: %w", err)
	}
	return data, nil
}

func unmarshalList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("decode audit list: %w", err)
	}
	return vals, nil
}
