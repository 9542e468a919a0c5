package httpapi

import (
	"context"
	"net/http"
	"strings"

	"ponti/attention-service/internal/store"
)

const (
	sessionCookieName = "ponti_session"
	csrfCookieName    = "XSRF-TOKEN"
	csrfHeaderName    = "X-XSRF-TOKEN"
)

type authContextKey struct{}

// AuthMiddleware resolves the staff session for protected routes and
// enforces the CSRF token on state-changing requests. Kiosk ticket creation
// and the display snapshot stay public.
func AuthMiddleware(store store.TicketStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := store.GetSession(r.Context(), sessionID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		if mutating(r.Method) {
			token := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if token == "" || token != session.CSRFToken {
				writeError(w, "", http.StatusForbidden, "csrf_mismatch", "missing or invalid CSRF token")
				return
			}
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return store.Session{}, false
	}
	session, ok := value.(store.Session)
	return session, ok
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/login":
		return true
	case "/api/tickets":
		// Kiosks create tickets without a staff session.
		return r.Method == http.MethodPost
	case "/api/tickets/snapshot":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
