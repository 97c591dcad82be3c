package httpapi

import (
	"context"
	"net/http"

	"clinauth.org/internal/access"
)

type checkRequest struct {
	PermissionID  string   `json:"permission_id"`
	ResourceType  string   `json:"resource_type"`
	ResourceID    string   `json:"resource_id"`
	PHIContext    bool     `json:"phi_context"`
	PHICategories []string `json:"phi_categories"`
	Emergency     bool     `json:"emergency"`
	Justification string   `json:"justification"`
}

type checkResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

// handleAccessCheck answers an authorization question for the caller's own
// principal. The decision is always 200; denial is a payload, not an HTTP
// error.
func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeDenied(w, r, http.StatusUnauthorized)
		return
	}

	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.PermissionID == "" {
		writeError(w, r, http.StatusBadRequest, "permission_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.checkTimeout)
	defer cancel()

	decision, err := a.controller.Check(ctx, access.CheckRequest{
		UserID:        p.UserID,
		SessionID:     p.SessionID,
		PermissionID:  req.PermissionID,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		PHIContext:    req.PHIContext,
		PHICategories: req.PHICategories,
		Emergency:     req.Emergency,
		Justification: req.Justification,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "access check failed")
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Granted: decision.Granted,
		Reason:  decision.Reason,
	})
}

// handleEffectivePermissions returns the caller's resolved permission set.
func (a *API) handleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeDenied(w, r, http.StatusUnauthorized)
		return
	}
	perms, err := a.resolver.EffectivePermissions(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     p.UserID,
		"permissions": perms.Sorted(),
	})
}
