// Package transport exposes the Query Handler over HTTP: the SSE-or-JSON
// /ask endpoint, /sites and /who discovery helpers, /health and /ready
// probes, and a JSON-RPC 2.0 /mcp control surface, built on a chi
// router.
package transport

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/telemetry"
)

// Server builds the gateway's HTTP surface over a hot-reloadable
// config.RuntimeHolder: every request reads the current Runtime, so a
// config reload takes effect for the very next request with no restart.
type Server struct {
	holder    *config.RuntimeHolder
	log       *slog.Logger
	telemetry *telemetry.Recorder

	shuttingDown atomic.Bool
	startedAt    time.Time
}

// NewServer constructs a Server over holder. rec may be nil.
func NewServer(holder *config.RuntimeHolder, log *slog.Logger, rec *telemetry.Recorder) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{holder: holder, log: log, telemetry: rec, startedAt: time.Now()}
}

// MarkShuttingDown causes /ready to immediately report unavailable, so a
// load balancer stops routing new requests before the server stops
// accepting connections.
func (s *Server) MarkShuttingDown() {
	s.shuttingDown.Store(true)
}

// Router builds the complete chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.telemetry != nil {
		r.Handle("/metrics", s.telemetry.Handler())
	}

	r.Get("/ask", s.handleAsk)
	r.Post("/ask", s.handleAsk)
	r.Get("/sites", s.handleSites)
	r.Get("/who", s.handleWho)

	r.Handle("/mcp", s.mcpHandler())

	return r
}

// current returns the Runtime in effect for this request.
func (s *Server) current() *config.Runtime {
	return s.holder.Current()
}

// loggingMiddleware logs one structured line per request, wrapping the
// response writer to capture status and byte count.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
