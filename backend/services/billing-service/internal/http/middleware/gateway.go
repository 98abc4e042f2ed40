package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// GatewayKeyHeader carries the payment gateway's shared key.
const GatewayKeyHeader = "X-Gateway-Key"

// GatewayKey admits requests whose X-Gateway-Key matches the bcrypt hash.
// An empty hash rejects everything.
func GatewayKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(GatewayKeyHeader)
			if hash == "" || key == "" {
				http.Error(w, "missing gateway key", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				http.Error(w, "invalid gateway key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
