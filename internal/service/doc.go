// Package service implements the catalog operations behind the HTTP API and
// the CLI.
//
// CatalogService imports descriptor files, validates them, stores them and
// re-derives relations across the whole catalog after every write. Graph
// queries run against a fresh entity cache per query; all caches share one
// fetch limiter so concurrent queries cannot overload the store.
//
// # Event System
//
// Writes and resolved graphs are published on an EventBus. The hub forwards
// events to SSE clients, and WatchGraph listens for catalog changes to
// refresh watched graphs.
package service
