// Package api is the HTTP surface: the SSE chat stream, session CRUD,
// reconstructed history, health probes and metrics.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/relay"
	"github.com/parleyhq/parley/internal/session"
)

// ServerConfig wires the server's dependencies.
type ServerConfig struct {
	Logger        log.Logger
	Relay         *relay.Relay           // required
	SessionStore  session.Store          // required
	Reconstructor *history.Reconstructor // required
	Metrics       *metrics.Metrics       // required
	Gatherer      prometheus.Gatherer    // nil uses the default registry
	Pool          *pgxpool.Pool          // nil disables DB readiness checking
	CORSOrigins   []string
	TrustProxy    bool // honor X-Real-IP/X-Forwarded-For
	RateBurst     int  // per-IP burst, 0 means 60
}

// Server is the JSON/SSE HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer configures all routes and the middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Relay == nil:
		return nil, errors.New("relay is required")
	case cfg.SessionStore == nil:
		return nil, errors.New("session store is required")
	case cfg.Reconstructor == nil:
		return nil, errors.New("reconstructor is required")
	case cfg.Metrics == nil:
		return nil, errors.New("metrics are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{relay: cfg.Relay, metrics: cfg.Metrics, logger: logger}
	sh := &sessionHandler{store: cfg.SessionStore, recon: cfg.Reconstructor, metrics: cfg.Metrics, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sh.patch)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sh.messages)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → CORS → RateLimit → Identity → Routes
	// CORS sits before the rate limit so preflight OPTIONS always gets
	// its headers.
	var handler http.Handler = mux
	handler = identityMiddleware()(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger, cfg.Metrics)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Probes and metrics bypass the middleware stack.
	top := http.NewServeMux()
	top.HandleFunc("GET /healthz", health)
	top.Handle("GET /readyz", readiness(cfg.Pool))
	top.Handle("GET /metrics", metricsHandler(cfg.Gatherer))
	top.Handle("/", handler)

	return &Server{mux: top}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
