package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
)

// metricsMiddleware records one sample per request, labelled by the matched mux pattern
// so path parameters do not blow up label cardinality. A nil m disables it.
func metricsMiddleware(m *instrumentation.Metrics) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(r.Context(), r.Method, route, rec.status,
				float64(time.Since(start).Microseconds())/1000)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
