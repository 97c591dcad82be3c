package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinauth.org/internal/access"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// Principal identifies the authenticated caller of a request.
type Principal struct {
	UserID    string
	SessionID string
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// withAuth resolves the bearer token to a principal and verifies the
// session is still live. Failures are uniformly 401 so callers cannot
// probe session state.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		userID, sessionID, err := a.tokens.Parse(raw)
		if err != nil {
			writeDenied(w, r, http.StatusUnauthorized)
			return
		}
		if err := a.sessions.Validate(r.Context(), sessionID, userID); err != nil {
			if isSessionError(err) {
				writeDenied(w, r, http.StatusUnauthorized)
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := ContextWithPrincipal(r.Context(), Principal{UserID: userID, SessionID: sessionID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission runs a full audited access check for the caller.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, permissionID string) bool {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeDenied(w, r, http.StatusUnauthorized)
		return false
	}
	decision, err := a.controller.Check(r.Context(), access.CheckRequest{
		UserID:       p.UserID,
		SessionID:    p.SessionID,
		PermissionID: permissionID,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return false
	}
	if !decision.Granted {
		writeDenied(w, r, http.StatusForbidden)
		return false
	}
	return true
}

func isSessionError(err error) bool {
	return errors.Is(err, access.ErrSessionNotFound) ||
		errors.Is(err, access.ErrSessionExpired) ||
		errors.Is(err, access.ErrSessionInvalidated)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
