package utils

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// UnauthorizedMessage is the body message of a rejected protected request
const UnauthorizedMessage = "Unauthorized"

// BearerAuthorized reports whether the request carries "Bearer <secret>".
// An empty secret authorizes nothing.
func BearerAuthorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// RequireBearer rejects requests without the shared bearer secret with 401 {"message":"Unauthorized"}
func RequireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !BearerAuthorized(r, secret) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": UnauthorizedMessage})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
