package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"entitygraph/internal/catalog"
	"entitygraph/internal/codec"
	"entitygraph/internal/domain"
	"entitygraph/internal/relgraph"
	"entitygraph/internal/repository"
	"entitygraph/internal/service"
)

// maxImportSize bounds descriptor uploads
const maxImportSize = 10 << 20

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CatalogHandler handles entity and import/export requests
type CatalogHandler struct {
	svc    *service.CatalogService
	logger logrus.FieldLogger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(svc *service.CatalogService, logger logrus.FieldLogger) *CatalogHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CatalogHandler{svc: svc, logger: logger}
}

// ListEntities returns stored entities, filtered by the kind query parameter
func (h *CatalogHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.svc.ListEntities(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list entities")
		writeError(h.logger, w, "Failed to list entities", err, http.StatusInternalServerError)
		return
	}
	if entities == nil {
		entities = []*domain.Entity{}
	}
	writeJSON(h.logger, w, entities, http.StatusOK)
}

// GetEntity returns one entity with its stitched relations
func (h *CatalogHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	entity, err := h.svc.GetEntity(r.Context(), ref)
	if err != nil {
		status := statusFor(err, http.StatusInternalServerError)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("ref", ref).Error("Failed to get entity")
		}
		writeError(h.logger, w, "Failed to get entity", err, status)
		return
	}
	writeJSON(h.logger, w, entity, http.StatusOK)
}

// DeleteEntity removes one entity
func (h *CatalogHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if err := h.svc.DeleteEntity(r.Context(), ref); err != nil {
		status := statusFor(err, http.StatusInternalServerError)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("ref", ref).Error("Failed to delete entity")
		}
		writeError(h.logger, w, "Failed to delete entity", err, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCatalog removes every entity
func (h *CatalogHandler) ClearCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		h.logger.WithError(err).Error("Failed to clear catalog")
		writeError(h.logger, w, "Failed to clear catalog", err, http.StatusInternalServerError)
		return
	}
	writeJSON(h.logger, w, map[string]string{"status": "cleared"}, http.StatusOK)
}

// Import stores the descriptors in the request body. The format comes from
// the path, the strategy (merge or replace) from the query.
func (h *CatalogHandler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportSize)
	result, err := h.svc.Import(r.Context(), body, r.PathValue("format"), r.URL.Query().Get("strategy"))
	if err != nil {
		h.logger.WithError(err).WithField("format", r.PathValue("format")).Warn("Import failed")
		writeError(h.logger, w, "Failed to import catalog", err, statusFor(err, http.StatusBadRequest))
		return
	}
	writeJSON(h.logger, w, result, http.StatusOK)
}

// Export writes every stored descriptor as a download
func (h *CatalogHandler) Export(w http.ResponseWriter, r *http.Request) {
	c, err := codec.Lookup(r.PathValue("format"))
	if err != nil {
		writeError(h.logger, w, "Unsupported format", err, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", contentType(c.Format()))
	w.Header().Set("Content-Disposition", "attachment; filename=catalog."+c.Format())
	if err := h.svc.Export(r.Context(), w, c.Format()); err != nil {
		// Can't write error response as we already set headers
		h.logger.WithError(err).Error("Failed to export catalog")
	}
}

// Health reports liveness
func (h *CatalogHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Helper functions

func writeJSON(logger logrus.FieldLogger, w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WithError(err).Warn("Failed to encode JSON")
	}
}

func writeError(logger logrus.FieldLogger, w http.ResponseWriter, message string, err error, statusCode int) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(logger, w, resp, statusCode)
}

// statusFor maps sentinel errors to HTTP status codes
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidEntity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, codec.ErrUnknownFormat),
		errors.Is(err, domain.ErrInvalidRef),
		errors.Is(err, relgraph.ErrNoRoots):
		return http.StatusBadRequest
	}
	return fallback
}

func contentType(format string) string {
	if format == "json" {
		return "application/json"
	}
	return "application/x-yaml"
}
