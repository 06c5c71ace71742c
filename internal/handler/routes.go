package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"entitygraph/internal/service"
)

// NewRouter registers every API route. events serves the live event stream.
func NewRouter(svc *service.CatalogService, events http.Handler, logger logrus.FieldLogger) *http.ServeMux {
	catalogHandler := NewCatalogHandler(svc, logger)
	graphHandler := NewGraphHandler(svc, logger)

	mux := http.NewServeMux()

	// Graph
	mux.HandleFunc("GET /api/graph", graphHandler.GetGraph)
	mux.HandleFunc("GET /api/graph/stream", graphHandler.StreamGraph)

	// Entities
	mux.HandleFunc("GET /api/entities", catalogHandler.ListEntities)
	mux.HandleFunc("DELETE /api/entities", catalogHandler.ClearCatalog)
	mux.HandleFunc("GET /api/entities/{ref...}", catalogHandler.GetEntity)
	mux.HandleFunc("DELETE /api/entities/{ref...}", catalogHandler.DeleteEntity)

	// Import/Export
	mux.HandleFunc("POST /api/import/{format}", catalogHandler.Import)
	mux.HandleFunc("GET /api/export/{format}", catalogHandler.Export)

	// SSE events endpoint
	if events != nil {
		mux.Handle("GET /events", events)
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", catalogHandler.Health)
	return mux
}
