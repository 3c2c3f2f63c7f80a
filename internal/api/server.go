// Package api exposes the crawler's operational HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/metrics"
)

// Server serves health, metrics and crawl control endpoints.
type Server struct {
	srv       *http.Server
	planner   *crawl.Planner
	scheduler *crawl.Scheduler
	crawls    crawl.CrawlStore
	logger    *zap.Logger
}

// New constructs the Server listening on addr.
func New(addr string, planner *crawl.Planner, scheduler *crawl.Scheduler, crawls crawl.CrawlStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		planner:   planner,
		scheduler: scheduler,
		crawls:    crawls,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawls", s.handleStartCrawl)
		r.Post("/crawls/schedule", s.handleScheduleCrawl)
		r.Get("/crawls/active", s.handleActiveCrawls)
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStartCrawl plans a crawl that starts immediately. Returns 409 when a
// crawl is already running.
func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	err := s.planner.Plan(r.Context(), true)
	if err != nil {
		if errors.Is(err, crawl.ErrCrawlActive) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("failed to plan crawl", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to plan crawl"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "crawl planned"})
}

// handleScheduleCrawl arms the planner to run at a randomized future time.
func (s *Server) handleScheduleCrawl(w http.ResponseWriter, r *http.Request) {
	eta, err := s.scheduler.ScheduleCrawl(r.Context())
	if err != nil {
		s.logger.Error("failed to schedule crawl", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to schedule crawl"})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "crawl scheduled",
		"eta":    eta.UTC().Format(time.RFC3339),
	})
}

type activeCrawl struct {
	ID            int64   `json:"id"`
	ScheduledAt   string  `json:"scheduled_at"`
	CurrentTaskID string  `json:"current_task_id,omitempty"`
	TotalItems    int64   `json:"total_items"`
	DoneItems     int64   `json:"done_items"`
	Progress      float64 `json:"progress_percent"`
}

func (s *Server) handleActiveCrawls(w http.ResponseWriter, r *http.Request) {
	active, err := s.crawls.ActiveCrawls(r.Context())
	if err != nil {
		s.logger.Error("failed to list active crawls", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list active crawls"})
		return
	}

	out := make([]activeCrawl, 0, len(active))
	for _, c := range active {
		entry := activeCrawl{
			ID:            c.ID,
			ScheduledAt:   c.ScheduledAt.UTC().Format(time.RFC3339),
			CurrentTaskID: c.CurrentTaskID,
		}
		total, terminal, err := s.crawls.CountItems(r.Context(), c.ID)
		if err == nil && total > 0 {
			entry.TotalItems = total
			entry.DoneItems = terminal
			entry.Progress = float64(terminal) / float64(total) * 100
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"crawls": out})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
