package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/mathsnotes/server/internal/errors"
)

// metricsAuth guards /metrics with "Authorization: Bearer <key>". An empty
// key leaves the endpoint open.
func metricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+apiKey)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "invalid or missing metrics API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
