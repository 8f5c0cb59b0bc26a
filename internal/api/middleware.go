package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/dashboard"
	"github.com/allaspectsdev/tokenpress/internal/metrics"
)

type contextKey int

const apiKeyContextKey contextKey = iota

// apiKeyFrom returns the authenticated API key stored by the auth
// middleware, or "" on unauthenticated routes.
func apiKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey).(string)
	return key
}

// authMiddleware validates the X-API-Key header with a constant-time
// comparison against the shared key. When dashboard key validation is on,
// unknown keys get one chance to be accepted as per-user dashboard keys.
func authMiddleware(sharedKey string, dash *dashboard.Client, validateKeys bool) func(http.Handler) http.Handler {
	shared := []byte(sharedKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, ErrUnauthorized,
					"missing API key; provide the X-API-Key header")
				return
			}

			ok := len(shared) > 0 && subtle.ConstantTimeCompare([]byte(key), shared) == 1
			if !ok && validateKeys {
				ok = dash.ValidateKey(r.Context(), key)
			}
			if !ok {
				log.Warn().Str("path", r.URL.Path).Msg("rejected request with invalid API key")
				writeError(w, http.StatusUnauthorized, ErrUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// metricsMiddleware records request counts, latency, and in-flight gauge
// under a fixed endpoint label.
func metricsMiddleware(collector *metrics.Collector, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			collector.IncrementActive()
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				collector.DecrementActive()
				collector.ObserveLatency(endpoint, time.Since(start).Seconds())
				status := "ok"
				if sw.status >= 400 {
					status = "error"
				}
				collector.RecordRequest(endpoint, status)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
