// Package api exposes the assistant over HTTP: a chat endpoint backed by
// the coordinator, direct knowledge search, and liveness/readiness probes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Abhi-Verma2005/oms-assistant/internal/assistant"
	"github.com/Abhi-Verma2005/oms-assistant/internal/ingest"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
)

// requestTimeout bounds a full request including generation.
const requestTimeout = 60 * time.Second

// Default per-IP rate limit: 5 req/s sustained with a burst of 10.
const (
	defaultRateLimit = 5.0
	defaultBurst     = 10
)

// Responder answers one chat turn.
type Responder interface {
	Respond(ctx context.Context, userID, query string) (*assistant.Response, error)
}

// Searcher serves direct knowledge lookups.
type Searcher interface {
	Retrieve(ctx context.Context, userID, query string) ([]retrieval.ContextItem, error)
}

// Enqueuer accepts completed turns for background learning.
type Enqueuer interface {
	Enqueue(turn ingest.Turn) error
}

// Pinger reports storage reachability for the readiness probe.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the assistant.
type Server struct {
	router      chi.Router
	coordinator Responder
	retriever   Searcher
	ingester    Enqueuer // nil disables background learning
	db          Pinger   // nil reduces readiness to liveness
	logger      *slog.Logger
}

// ServerConfig carries the Server dependencies.
type ServerConfig struct {
	Coordinator Responder
	Retriever   Searcher
	Ingester    Enqueuer
	DB          Pinger
	Logger      *slog.Logger
	TrustProxy  bool
}

// NewServer creates a Server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		coordinator: cfg.Coordinator,
		retriever:   cfg.Retriever,
		ingester:    cfg.Ingester,
		db:          cfg.DB,
		logger:      cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	limiter := newRateLimiter(defaultRateLimit, defaultBurst)
	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(limiter, cfg.TrustProxy, cfg.Logger))
		r.Post("/chat", s.handleChat)
		r.Post("/knowledge/search", s.handleSearch)
	})
	s.router = r

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
