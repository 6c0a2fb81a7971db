// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Tokens holds the accepted bearer tokens. Admin may call every endpoint;
// Read only safe (GET, HEAD) requests. An empty Read disables read-only access.
type Tokens struct {
	Admin string
	Read  string
}

// BearerToken returns middleware that accepts only the given token for every
// request.
func BearerToken(token string) func(http.Handler) http.Handler {
	return Require(Tokens{Admin: token})
}

// Require returns middleware that validates the Authorization header against
// t. Comparison uses constant-time equality to prevent timing side-channel
// attacks.
func Require(t Tokens) func(http.Handler) http.Handler {
	admin := []byte(t.Admin)
	read := []byte(t.Read)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			switch {
			case matches(got, admin):
			case matches(got, read):
				if r.Method != http.MethodGet && r.Method != http.MethodHead {
					http.Error(w, `{"error":"token is read-only"}`, http.StatusForbidden)
					return
				}
			default:
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matches(got, want []byte) bool {
	return len(want) > 0 && subtle.ConstantTimeCompare(got, want) == 1
}
