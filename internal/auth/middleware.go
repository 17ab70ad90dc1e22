package auth

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// RequireRoom guards routes under /api/rooms/{roomID}.
//
// The token is read from "Authorization: Bearer <token>" or, for clients that
// cannot set headers (an EventSource, a plain link), from the "token" query
// parameter. A missing or invalid token is 401. A valid token for a different
// room is 403. Handlers behind the guard can trust chi.URLParam(r, "roomID").
func RequireRoom(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w)
				return
			}
			roomID, err := tokens.Validate(raw)
			if err != nil {
				unauthorized(w)
				return
			}
			if roomID != chi.URLParam(r, "roomID") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"forbidden","message":"token does not grant access to this room"}` + "\n"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"a valid room token is required"}` + "\n"))
}
