package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/metrics"
)

// ActorHeader carries the authenticated user identity, set by the fronting
// proxy. Requests without it run as the shared anonymous actor against
// non-durable state.
const ActorHeader = "X-User-ID"

// AnonymousActor is the identity of header-less requests.
const AnonymousActor = "anonymous"

type actorCtxKey struct{}

// actorFromContext returns the request's actor id. The identity middleware
// always sets one, so the fallback only covers handlers tested in
// isolation.
func actorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorCtxKey{}).(string); ok && actor != "" {
		return actor
	}
	return AnonymousActor
}

// statusWriter captures status and size for logging and metrics.
// Implements Flusher for SSE and Unwrap for http.ResponseController.
type statusWriter struct {
	w            http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (sw *statusWriter) Header() http.Header { return sw.w.Header() }

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.w.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.statusCode == 0 {
		sw.statusCode = http.StatusOK
	}
	n, err := sw.w.Write(b)
	sw.bytesWritten += int64(n)
	return n, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.w }

// recoveryMiddleware converts panics into 500s when headers haven't been
// sent, and logs them either way.
func recoveryMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &statusWriter{w: w}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"headers_sent", wrapper.statusCode != 0,
					)
					if wrapper.statusCode == 0 {
						writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

// loggingMiddleware logs each request and records HTTP metrics. It reuses
// the recovery middleware's statusWriter instead of double-wrapping.
func loggingMiddleware(logger log.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper, ok := w.(*statusWriter)
			if !ok {
				wrapper = &statusWriter{w: w}
			}

			next.ServeHTTP(wrapper, r)

			status := wrapper.statusCode
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			if m != nil {
				code := strconv.Itoa(status)
				m.HTTPRequestCounter.WithLabelValues(r.Method, r.URL.Path, code).Inc()
				m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, code).Observe(elapsed.Seconds())
			}

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", wrapper.bytesWritten,
				"duration", elapsed,
				"ip", r.RemoteAddr,
			)
		})
	}
}

// corsMiddleware handles preflight and response headers for the allowed
// origin set.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ActorHeader)
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// identityMiddleware resolves the actor for the request: the trusted
// identity header when present, the shared anonymous actor otherwise.
// Authentication itself happens upstream; this is a routing decision
// between durable and non-durable state.
func identityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get(ActorHeader)
			if actor == "" {
				actor = AnonymousActor
			}
			ctx := context.WithValue(r.Context(), actorCtxKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
