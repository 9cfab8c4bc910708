package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

// CategoryService computes the JSON payload of one analytics category.
type CategoryService interface {
	Category(ctx context.Context, category models.Category) (json.RawMessage, error)
}

// Handler serves the analytics endpoints.
type Handler struct {
	Service CategoryService
	Logger  *slog.Logger
	// Models is served verbatim from /analytics/models.
	Models []models.ModelInfo
	// Revalidate is advertised to clients as the max-age of successful responses.
	Revalidate time.Duration
}

// NewRouter builds the HTTP surface. Every analytics route is also mounted
// under /api.
func NewRouter(h *Handler, requestTimeout time.Duration) http.Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 45 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", h.health)
	h.RegisterRoutes(r)
	r.Route("/api", h.RegisterRoutes)
	return r
}

// RegisterRoutes attaches the analytics endpoints to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/analytics/models", h.listModels)
	r.Get("/analytics/{category}", h.category)
}

func (h *Handler) category(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusNotFound, Envelope{Success: false, Error: err.Error()})
		return
	}

	data, err := h.Service.Category(r.Context(), category)
	status, envelope := BuildEnvelope(h.Logger, category, data, err)
	if envelope.Success {
		w.Header().Set("Cache-Control", h.cacheControl())
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	writeJSON(w, status, envelope)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	catalog := h.Models
	if catalog == nil {
		catalog = []models.ModelInfo{}
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Envelope{Success: false, Error: "failed to encode model catalog"})
		return
	}
	w.Header().Set("Cache-Control", h.cacheControl())
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) cacheControl() string {
	maxAge := int(h.Revalidate / time.Second)
	if maxAge <= 0 {
		return "no-cache"
	}
	return fmt.Sprintf("public, max-age=%d", maxAge)
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
