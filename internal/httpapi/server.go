// Package httpapi is the thin HTTP surface in front of Job Intake:
// CSV upload, per-mailing status/entries lookup, health, and metrics.
// Router and middleware stack grounded on join-service and
// event-service's chi usage; JSON responses use go-chi/render as
// join-service does.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baechuer/mailblast/internal/intake"
	"github.com/baechuer/mailblast/internal/recovery"
	"github.com/baechuer/mailblast/internal/repository"
	"github.com/baechuer/mailblast/internal/shutdown"
)

// Server wires the chi router.
type Server struct {
	Router chi.Router
}

// Deps bundles the server's collaborators.
type Deps struct {
	Writer      *intake.Writer
	Mailings    *repository.MailingRepository
	Entries     *repository.EntryRepository
	DeadLetters *repository.DeadLetterRepository
	Recovery    *recovery.Checker
	Shutdown    *shutdown.Coordinator
	RateLimit   func(http.Handler) http.Handler // optional per-IP limiter middleware
}

func NewServer(deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(acceptingGate(deps.Shutdown))

	if deps.RateLimit != nil {
		r.Use(deps.RateLimit)
	}

	h := &mailingHandler{
		writer:      deps.Writer,
		mailings:    deps.Mailings,
		entries:     deps.Entries,
		deadLetters: deps.DeadLetters,
	}

	r.Post("/mailings", h.Create)
	r.Get("/mailings/{mailingID}", h.Get)
	r.Get("/mailings/{mailingID}/entries", h.ListEntries)

	healthHandler := &healthHandlerT{recovery: deps.Recovery}
	r.Get("/healthz", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	return &Server{Router: r}
}

// acceptingGate implements §4.10 Step 1: once shutdown has flipped
// the accepting flag off, job-intake endpoints reject with 503.
// Read-only endpoints (status, health, metrics) stay available.
func acceptingGate(coord *shutdown.Coordinator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if coord != nil && r.Method == http.MethodPost && !coord.Accepting() {
				http.Error(w, `{"error":"service is shutting down"}`, http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
