// Package handler implements the HTTP API of the entity graph server.
//
// # Handlers
//
// GraphHandler resolves relation graphs around root entities, either once
// (GET /api/graph) or as a Server-Sent Events stream that follows catalog
// changes (GET /api/graph/stream).
//
// CatalogHandler lists, fetches and deletes entities and imports or exports
// descriptor files in YAML or JSON.
//
// Middleware provides panic recovery, CORS and request logging.
//
// # Response Format
//
// Success responses return JSON (or YAML for yaml exports and graphs). Error
// responses return JSON with {error, details} structure. Graph responses carry
// an ETag and set X-Graph-Partial when some entities could not be loaded.
package handler
