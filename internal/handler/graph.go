package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"entitygraph/internal/codec"
	"entitygraph/internal/domain"
	"entitygraph/internal/hub"
	"entitygraph/internal/relgraph"
	"entitygraph/internal/service"
)

// PartialHeader is set on graph responses built while some entities failed to
// load
const PartialHeader = "X-Graph-Partial"

// GraphHandler serves relation graphs
type GraphHandler struct {
	svc    *service.CatalogService
	logger logrus.FieldLogger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(svc *service.CatalogService, logger logrus.FieldLogger) *GraphHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GraphHandler{svc: svc, logger: logger}
}

// GraphEvent is the data of one graph stream message
type GraphEvent struct {
	Nodes   []domain.GraphNode `json:"nodes"`
	Edges   []domain.GraphEdge `json:"edges"`
	Loading bool               `json:"loading"`
	Error   string             `json:"error,omitempty"`
}

// GetGraph resolves the graph around the root query parameters.
//
// Query parameters: root (repeatable or comma separated), maxDepth,
// relation, kind, unidirectional, merge and format (json or yaml). The
// response carries an ETag of its body and honours If-None-Match.
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	q, err := parseGraphQuery(r.URL.Query())
	if err != nil {
		writeError(h.logger, w, "Invalid graph query", err, http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	c, err := codec.Lookup(format)
	if err != nil {
		writeError(h.logger, w, "Unsupported format", err, http.StatusBadRequest)
		return
	}

	result, err := h.svc.Graph(r.Context(), q)
	if err != nil {
		status := statusFor(err, http.StatusInternalServerError)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).Error("Failed to resolve graph")
		}
		writeError(h.logger, w, "Failed to resolve graph", err, status)
		return
	}

	var buf bytes.Buffer
	if err := c.EncodeGraph(result.Graph, &buf); err != nil {
		h.logger.WithError(err).Error("Failed to encode graph")
		writeError(h.logger, w, "Failed to encode graph", err, http.StatusInternalServerError)
		return
	}

	etag := graphETag(buf.Bytes())
	w.Header().Set("ETag", etag)
	if result.Err != nil {
		h.logger.WithError(result.Err).WithField("roots", q.Roots).Warn("Graph built with missing entities")
		w.Header().Set(PartialHeader, "true")
	}
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType(c.Format()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// StreamGraph sends the graph around the roots as Server-Sent Events. A
// "graph" event is emitted whenever the graph settles and again after every
// catalog change.
func (h *GraphHandler) StreamGraph(w http.ResponseWriter, r *http.Request) {
	q, err := parseGraphQuery(r.URL.Query())
	if err != nil {
		writeError(h.logger, w, "Invalid graph query", err, http.StatusBadRequest)
		return
	}
	if len(q.Roots) == 0 {
		writeError(h.logger, w, "Invalid graph query", relgraph.ErrNoRoots, http.StatusBadRequest)
		return
	}

	stream, ok := hub.NewStream(w)
	if !ok {
		writeError(h.logger, w, "Streaming not supported", nil, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := stream.Comment("connected"); err != nil {
		h.logger.WithError(err).Debug("Graph stream closed before start")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	err = h.svc.WatchGraph(ctx, q, func(result *relgraph.Result) {
		event := GraphEvent{
			Nodes:   result.Graph.Nodes,
			Edges:   result.Graph.Edges,
			Loading: result.Loading,
		}
		if result.Err != nil {
			event.Error = result.Err.Error()
		}
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.WithError(err).Warn("Failed to encode graph event")
			return
		}
		if err := stream.Event("graph", data); err != nil {
			// client went away
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WithError(err).Warn("Graph stream ended")
	}
}

// parseGraphQuery reads a GraphQuery from URL query parameters
func parseGraphQuery(values url.Values) (service.GraphQuery, error) {
	q := service.GraphQuery{
		Roots:         splitList(values["root"]),
		RelationTypes: splitList(values["relation"]),
		Kinds:         splitList(values["kind"]),
	}

	if v := values.Get("maxDepth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.Errorf("maxDepth: %q is not an integer", v)
		}
		q.MaxDepth = &depth
	}
	for name, dst := range map[string]**bool{
		"unidirectional": &q.Unidirectional,
		"merge":          &q.MergeRelations,
	} {
		v := values.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, errors.Errorf("%s: %q is not a boolean", name, v)
		}
		*dst = &b
	}
	return q, nil
}

// splitList flattens repeated and comma separated values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func graphETag(body []byte) string {
	sum := blake2b.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
