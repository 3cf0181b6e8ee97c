// Package handler exposes paper generation and grading over a JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pavelanni/papergen/internal/auth"
	"github.com/pavelanni/papergen/internal/cache"
	"github.com/pavelanni/papergen/internal/exam"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/store"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// Transcriber turns uploaded audio or video into text.
type Transcriber interface {
	Transcribe(ctx context.Context, name string, r io.Reader) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store       *store.Store
	papers      *cache.PaperCache
	exam        *exam.Service
	transcriber Transcriber
	issuer      *auth.Issuer
	log         *slog.Logger
}

// New creates a Handler. A nil paper cache reads papers straight from the
// store.
func New(s *store.Store, svc *exam.Service, tr Transcriber, iss *auth.Issuer, papers *cache.PaperCache, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if papers == nil {
		papers = cache.NewPaperCache(nil, s, 0, log)
	}
	return &Handler{
		store:       s,
		papers:      papers,
		exam:        svc,
		transcriber: tr,
		issuer:      iss,
		log:         log,
	}
}

// Router builds the full middleware stack around Routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())
	h.Routes(r)
	return otelhttp.NewHandler(r, "papergen",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", h.handleSignup)
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/auth/me", h.handleMe)
			r.Post("/auth/logout", h.handleLogout)

			r.Post("/papers", h.handleCurriculumPaper)
			r.Post("/papers/document", h.handleDocumentPaper)
			r.Post("/papers/media", h.handleMediaPaper)
			r.Get("/papers", h.handleListPapers)
			r.Get("/papers/{paperID}", h.handleGetPaper)
			r.Post("/papers/{paperID}/evaluate", h.handleEvaluate)

			r.Get("/evaluations", h.handleListEvaluations)
			r.Get("/evaluations/{evaluationID}", h.handleGetEvaluation)
			r.Get("/dashboard", h.handleDashboard)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.RoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle-active", h.handleToggleUserActive)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "database": "ok", "cache": "ok"}
	code := http.StatusOK
	if err := h.store.Ping(); err != nil {
		h.log.Error("database health check failed", "error", err)
		status["database"] = "unavailable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := h.papers.Ping(r.Context()); err != nil {
		// The cache is optional; papers still load from the database.
		h.log.Warn("cache health check failed", "error", err)
		status["cache"] = "unavailable"
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
