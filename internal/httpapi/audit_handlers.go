package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinauth.org/internal/access"
	"clinauth.org/internal/audit"
)

// handleAuditQuery serves compliance queries over the audit log. Requires
// the audit viewer permission; the check itself is audited.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermAuditLogView) {
		return
	}

	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := a.auditLog.Query(r.Context(), f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:   strings.TrimSpace(q.Get("user_id")),
		Action:   strings.TrimSpace(q.Get("action")),
		Decision: strings.TrimSpace(q.Get("decision")),
	}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return audit.Filter{}, err
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return audit.Filter{}, err
	}
	if f.PHIOnly, err = parseBoolParam(q.Get("phi")); err != nil {
		return audit.Filter{}, err
	}
	if f.EmergencyOnly, err = parseBoolParam(q.Get("emergency")); err != nil {
		return audit.Filter{}, err
	}
	if f.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		return audit.Filter{}, err
	}
	if f.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		return audit.Filter{}, err
	}
	f.Normalize()
	return f, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errValue("time must be RFC3339")
	}
	return t, nil
}

func parseBoolParam(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errValue("flag must be a boolean")
	}
	return b, nil
}

func parseIntParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errValue("value must be a non-negative integer")
	}
	return n, nil
}

type errValue string

func (e errValue) Error() string { return string(e) }
