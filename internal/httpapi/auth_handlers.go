package httpapi

import (
	"net/http"
	"time"

	"clinauth.org/internal/access"
)

type loginRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	client := access.ClientContext{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	result, err := a.authenticator.Authenticate(r.Context(), req.Username, req.Secret, client)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
		return
	}
	if !result.OK {
		// The concrete reason stays in the audit trail; the caller learns
		// only that the login failed.
		writeDenied(w, r, http.StatusUnauthorized)
		return
	}

	expiresAt := time.Now().UTC().Add(a.sessions.TTL())
	token, err := a.tokens.Issue(result.UserID, result.SessionID, expiresAt)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		UserID:      result.UserID,
		Permissions: result.Permissions,
		ExpiresAt:   expiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeDenied(w, r, http.StatusUnauthorized)
		return
	}
	if err := a.authenticator.Logout(r.Context(), p.UserID, p.SessionID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
