// Package server exposes the HTTP surface: manual upload, the inbound email
// webhook, and read/delete access to jobs.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/archive"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/auth"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/intake"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/monitoring"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

// JobDeleter removes a job and its archived document.
type JobDeleter interface {
	Delete(ctx context.Context, id string) error
}

// JobReader is the read side of the record store.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	Ping(ctx context.Context) error
}

// Deps are the components the handlers call. Archive and Collector may be
// nil.
type Deps struct {
	Jobs      JobReader
	Deleter   JobDeleter
	Archive   archive.Archive
	Auth      auth.Authenticator
	Manual    *intake.Manual
	Email     *intake.Email
	Collector *monitoring.Collector

	LookbackHours int
}

// Server holds the HTTP handlers.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
}

// New creates a Server.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = intake.DefaultMaxUploadBytes
	}
	return &Server{cfg: cfg, deps: deps}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/api/webhooks/email-ingest", s.handleEmailIngest)

	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Post("/analyze", s.handleAnalyze)
		r.Post("/analyze/", s.handleAnalyze)
		r.Get("/api/stats", s.handleStats)

		r.Route("/api/deals", func(r chi.Router) {
			r.Get("/", s.handleListDeals)
			r.Get("/{id}", s.handleGetDeal)
			r.Delete("/{id}", s.handleDeleteDeal)
			r.Get("/{id}/view-pdf", s.handleViewPDF)
		})
	})

	return r
}

// requireIdentity authenticates the caller and stores the identity in the
// request context.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			zap.L().Debug("server: authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
