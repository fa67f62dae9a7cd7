package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// ctxKey is unexported so no other package can read or overwrite the user
// id stored under it.
type ctxKey struct{}

// TokenCookie is the HttpOnly cookie the GitHub callback stores the JWT in.
const TokenCookie = "token"

// RequireAuth rejects requests without a valid token and stores the caller's
// user id in the context of the rest.
//
// A rejected request gets 401 with the same body shape as other API errors:
//
//	{"error":"unauthorized","reason":"token_expired","message":"..."}
//
// so a client can tell "log in again" (token_expired) from "never logged in".
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := tokens.Validate(TokenFromRequest(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthorized",
					"reason":  Reason(err),
					"message": "valid authentication required",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns ctx carrying userID. Handler tests use it to skip
// minting tokens.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, or false on routes
// RequireAuth does not guard.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok && id > 0
}

// TokenFromRequest returns the raw JWT carried by r, or "".
//
// API clients send "Authorization: Bearer <jwt>" with the token /api/login
// returned. Browsers that came through the GitHub callback only have the
// cookie, since that flow ends in a redirect. The header wins when both
// are present.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
