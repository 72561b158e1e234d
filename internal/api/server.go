package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scanforge/bookscan/internal/config"
	"github.com/scanforge/bookscan/internal/history"
	"github.com/scanforge/bookscan/internal/log"
	"github.com/scanforge/bookscan/internal/logbus"
	"github.com/scanforge/bookscan/internal/scan"
)

// Server is the HTTP control surface over the scan orchestrator.
type Server struct {
	cfg    config.Config
	mgr    *scan.Manager
	logs   *logbus.Broadcaster
	ledger *history.Ledger
	router chi.Router
}

// New wires the router with the canonical middleware stack and all routes.
func New(cfg config.Config, mgr *scan.Manager, logs *logbus.Broadcaster, ledger *history.Ledger) *Server {
	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		logs:   logs,
		ledger: ledger,
	}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(cors(cfg.AllowedOrigins))
	r.Use(log.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/reset", s.handleReset)
		})
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/download", s.handleDownload)
		r.Get("/logs/stream", s.handleLogStream)
	})

	s.router = r
	return s
}

// Handler returns the root handler for mounting into an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
