// Package httpapi serves the table catalog, row CRUD, the order tree,
// business number checks, order attachments and CSV exports over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"erpcore/internal/adapters/export"
	"erpcore/internal/core"
)

// MaxUploadBytes caps a single attachment upload.
const MaxUploadBytes = 32 << 20

// Option configures the router.
type Option func(*Handler)

// WithExports enables the export endpoints.
func WithExports(s export.Scheduler) Option {
	return func(h *Handler) { h.exports = s }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the access and error logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// Handler holds the dependencies of the HTTP endpoints.
type Handler struct {
	svc     *core.Service
	exports export.Scheduler
	metrics http.Handler
	logger  core.Logger
}

// NewRouter builds the chi router for svc.
func NewRouter(svc *core.Service, opts ...Option) http.Handler {
	h := &Handler{svc: svc, logger: svc.Logger()}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(actorFromHeaders)

		r.Get("/tables", h.listTables)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/rows", h.listRows)
			r.Post("/rows", h.createRow)
			r.Get("/rows/{id}", h.getRow)
			r.Patch("/rows/{id}", h.updateRow)
			r.Delete("/rows/{id}", h.deleteRow)
			r.Post("/reorder", h.reorder)
			r.Post("/exports", h.createExport)
		})

		r.Get("/orders/tree", h.orderTree)
		r.Get("/orders/{id}/attachments", h.listAttachments)
		r.Post("/orders/{id}/attachments", h.uploadAttachment)
		r.Get("/orders/{id}/attachments/download", h.downloadAttachment)

		r.Get("/companies/business-number", h.checkBusinessNumber)

		r.Get("/exports/{id}", h.getExport)
		r.Get("/exports/{id}/download", h.downloadExport)
	})
	return r
}

// Serve runs srv until ctx is cancelled, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
