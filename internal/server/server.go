package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eci-platform/notifyd/internal/engine"
	"github.com/eci-platform/notifyd/internal/logging"
	"github.com/eci-platform/notifyd/internal/security"
	"github.com/eci-platform/notifyd/internal/store"
)

// HealthChecker reports broker liveness. The stores carry their own Ping.
type HealthChecker interface {
	Healthy() bool
}

type Server struct {
	engine     *engine.Engine
	jobs       store.JobStore
	attempts   store.AttemptStore
	idem       store.IdempotencyStore
	broker     HealthChecker
	apiKeyHash string
	validate   *validator.Validate
	registry   *prometheus.Registry
}

type Options struct {
	Engine   *engine.Engine
	Jobs     store.JobStore
	Attempts store.AttemptStore
	Idem     store.IdempotencyStore
	Broker   HealthChecker
	APIKey   string
	Registry *prometheus.Registry
}

func New(opts Options) *Server {
	return &Server{
		engine:     opts.Engine,
		jobs:       opts.Jobs,
		attempts:   opts.Attempts,
		idem:       opts.Idem,
		broker:     opts.Broker,
		apiKeyHash: security.HashKey(opts.APIKey),
		validate:   validator.New(),
		registry:   opts.Registry,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/health", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/notifications", s.handleSubmit)
		r.Get("/notifications", s.handleList)
		r.Get("/notifications/stats", s.handleStats)
		r.Get("/notifications/{id}", s.handleGet)
		r.Post("/notifications/{id}/retry", s.handleRetry)
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := logging.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}
		if !security.KeysEqual(security.HashKey(key), s.apiKeyHash) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("code", "API_ERROR"), slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
