package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const UserKey contextKey = "user"

// RequireAuth rejects requests without a valid token and stores the token's
// user id in the request context.
func (i *Issuer) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := TokenFromRequest(r)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := i.ValidateToken(tokenString)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID)))
	})
}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserKey, userID)
}

// UserFromContext returns the authenticated user id, or "" outside
// RequireAuth.
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserKey).(string)
	return userID
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
