package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/acoruss/gateway/internal/errors"
)

// adminMetricsAuth protects /metrics with a static bearer key. An empty
// key leaves the endpoint open, which is the expected state behind a
// private load balancer.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			expected := "Bearer " + apiKey
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAPIKey, "invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
