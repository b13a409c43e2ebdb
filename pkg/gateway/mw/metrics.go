package mw

import (
	"net/http"
	"time"

	"github.com/vango-go/vai-realtime/pkg/gateway/metrics"
)

// Metrics records request counts and latency by mux route pattern. It must
// wrap the mux directly so the matched pattern is visible after ServeHTTP.
func Metrics(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec, wrapped := wrapStatus(w)
		next.ServeHTTP(wrapped, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(r.Method, route, rec.status, time.Since(start))
	})
}
