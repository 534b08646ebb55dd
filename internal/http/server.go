package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"conti/internal/cli"
	"conti/internal/log"
	"conti/internal/middleware/ratelimit"
	"conti/internal/middleware/security"
	"conti/internal/middleware/trace"
)

type Server struct {
	http.Server
	app     *cli.App
	logger  *log.Logger
	tracer  *trace.Middleware
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures the routes and middleware, returning a ready-to-run
// http.Server for app.
func NewServer(addr string, app *cli.App) *Server {
	logger := app.Logger.WithComponent(log.ComponentHTTP)
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		app:     app,
		logger:  logger,
		tracer:  trace.NewMiddleware(logger, extractClientIP),
		limiter: ratelimit.NewLimiter(ratelimit.DefaultConfig()),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/integrity", s.handleIntegrity)

	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/split", s.handleSplit)

	mux.HandleFunc("POST /api/categories", s.handleAddCategory)
	mux.HandleFunc("PATCH /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)
	mux.HandleFunc("POST /api/categories/{id}/subcategories", s.handleAddSubcategory)
	mux.HandleFunc("PATCH /api/categories/{id}/subcategories/{sub}", s.handleRenameSubcategory)
	mux.HandleFunc("DELETE /api/categories/{id}/subcategories/{sub}", s.handleDeleteSubcategory)

	mux.HandleFunc("POST /api/rules", s.handleAddRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("POST /api/rules/{id}/process", s.handleProcessRule)
	mux.HandleFunc("POST /api/rules/{id}/skip", s.handleSkipRule)
	mux.HandleFunc("GET /api/rules/due", s.handleDueRules)
	mux.HandleFunc("GET /api/rules/upcoming", s.handleUpcomingRules)
	mux.HandleFunc("POST /api/rules/evaluate", s.handleEvaluate)

	mux.HandleFunc("POST /api/bulk/recategorize", s.handleRecategorize)
	mux.HandleFunc("POST /api/bulk/tag", s.handleTag)

	mux.HandleFunc("GET /api/backup", s.handleExportBackup)
	mux.HandleFunc("POST /api/backup", s.handleRestoreBackup)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(extractClientIP, s.onRateLimit)(handler)
	handler = s.tracer.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	s.Handler = handler

	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, extractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeJSON(w, r, http.StatusTooManyRequests, ErrorResponse{
		Error: "rate limit exceeded, try again later",
		Type:  "rate_limited",
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Status        string `json:"status"`
	Storage       string `json:"storage"`
	Events        string `json:"events"`
	Version       int64  `json:"version"`
	TotalRequests int64  `json:"totalRequests"`
	ServerErrors  int64  `json:"serverErrors"`
	RateLimited   int64  `json:"rateLimited"`
}

// handleReady reports 503 when storage is unreachable. A tripped event
// publisher degrades the report without failing it, since commits still land.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	metrics := s.tracer.GetMetrics()
	report := readiness{
		Status:        "ready",
		Storage:       s.app.Config.DataBackend,
		Events:        "disabled",
		Version:       s.app.Book.Snapshot().Version(),
		TotalRequests: metrics.TotalRequests,
		ServerErrors:  metrics.ServerErrors,
		RateLimited:   s.limiter.GetMetrics().TotalHits,
	}
	status := http.StatusOK

	if err := s.app.Ready(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "storage not ready", log.FieldError, err)
		report.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if s.app.Events != nil {
		report.Events = "ok"
		if !s.app.Events.Healthy() {
			report.Events = "circuit_open"
			if status == http.StatusOK {
				report.Status = "degraded"
			}
		}
	}
	writeJSON(w, r, status, report)
}
