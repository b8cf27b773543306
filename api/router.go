package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tomasen/realip"

	"github.com/certdesk/certdesk/logging"
	"github.com/certdesk/certdesk/metrics"
)

// SecretHeader carries the shared admin secret.
const SecretHeader = "X-Admin-Secret"

// NewRouter mounts the handlers. Every /api route requires the admin secret
// returned by secret, read on each request; an empty secret locks the API.
func NewRouter(h *Handlers, secret func() string) *mux.Router {
	r := mux.NewRouter()
	r.Use(accessLog)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.Use(requireSecret(secret))
	a.HandleFunc("/folder-cache", h.HandleCacheStats).Methods(http.MethodGet)
	a.HandleFunc("/folder-cache", h.HandleInvalidate).Methods(http.MethodDelete)
	a.HandleFunc("/folder-cache/preload", h.HandlePreload).Methods(http.MethodPost)
	a.HandleFunc("/folder-cache/events", h.HandleSSE).Methods(http.MethodGet)
	a.HandleFunc("/folders/resolve", h.HandleResolve).Methods(http.MethodGet)
	return r
}

func requireSecret(secret func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := secret()
			got := r.Header.Get(SecretHeader)
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				logging.Sub("handlers").Warn("rejected admin request", "path", r.URL.Path, "ip", realip.FromRequest(r))
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Sub("http").Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"ip", realip.FromRequest(r),
			"duration", time.Since(start))
	})
}
