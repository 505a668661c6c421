package middleware

import (
	"context"
	"net/http"
)

type sessionKey struct{}

// RequireAuth guards the account area. Requests without a valid, unrevoked
// session get a JSON 401; authenticated responses are marked uncacheable.
func RequireAuth(sm *SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")

			session := sm.GetSessionFromRequest(r)
			if session == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="facegate"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authentication required"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(SetSessionInContext(r.Context(), session)))
		})
	}
}

// GetSessionFromContext returns the session stored by RequireAuth, or nil.
func GetSessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionKey{}).(*Session)
	return session
}

// SetSessionInContext returns ctx carrying session.
func SetSessionInContext(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}
