package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinauth.org/internal/access"
)

type createUserRequest struct {
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	HIPAATrained   bool   `json:"hipaa_trained"`
	TrainingExpiry string `json:"training_expiry"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ParentIDs   []string `json:"parent_ids"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID    string `json:"role_id"`
	ExpiresAt string `json:"expires_at"`
}

type putGrantRequest struct {
	PermissionID  string `json:"permission_id"`
	Granted       bool   `json:"granted"`
	Justification string `json:"justification"`
	ExpiresAt     string `json:"expires_at"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminUsersManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())

	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	expiry, err := parseTimeParam(req.TrainingExpiry)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "training_expiry must be RFC3339")
		return
	}
	user, err := a.admin.CreateUser(r.Context(), p.UserID, access.User{
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		HIPAATrained:   req.HIPAATrained,
		TrainingExpiry: expiry,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUserDeactivate(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoleAssign(w, r, userID)
	case len(parts) == 3 && parts[1] == "roles":
		a.handleUserRoleRemove(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "grants":
		a.handleUserGrantPut(w, r, userID)
	case len(parts) == 3 && parts[1] == "grants":
		a.handleUserGrantRemove(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserDeactivate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminUsersManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	if err := a.admin.DeactivateUser(r.Context(), p.UserID, userID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoleAssign(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminRolesManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())

	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	expiresAt, err := parseTimeParam(req.ExpiresAt)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expires_at must be RFC3339")
		return
	}
	if err := a.admin.AssignRole(r.Context(), p.UserID, userID, req.RoleID, expiresAt); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoleRemove(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminRolesManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	if err := a.admin.RemoveAssignment(r.Context(), p.UserID, userID, roleID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserGrantPut(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminUsersManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())

	var req putGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.PermissionID = strings.TrimSpace(req.PermissionID)
	if req.PermissionID == "" {
		writeError(w, r, http.StatusBadRequest, "permission_id is required")
		return
	}
	expiresAt, err := parseTimeParam(req.ExpiresAt)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expires_at must be RFC3339")
		return
	}
	grant := access.DirectGrant{
		UserID:        userID,
		PermissionID:  req.PermissionID,
		Granted:       req.Granted,
		Justification: req.Justification,
		ExpiresAt:     expiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.admin.PutGrant(r.Context(), p.UserID, grant); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserGrantRemove(w http.ResponseWriter, r *http.Request, userID, permissionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminUsersManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	if err := a.admin.RemoveGrant(r.Context(), p.UserID, userID, permissionID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminRolesManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())

	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	role, err := a.admin.CreateRole(r.Context(), p.UserID, req.Name, req.Description, req.ParentIDs)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, access.PermAdminRolesManage) {
		return
	}
	p, _ := PrincipalFromContext(r.Context())

	var req rolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.admin.SetRolePermissions(r.Context(), p.UserID, parts[0], req.Permissions); err != nil {
		handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
