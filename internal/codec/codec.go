// Package codec reads and writes entity descriptor files and renders graphs.
package codec

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"entitygraph/internal/domain"
)

// ErrUnknownFormat is returned for formats without a codec
var ErrUnknownFormat = errors.New("unknown format")

// Importer reads entity descriptors
type Importer interface {
	Parse(r io.Reader) ([]*domain.Entity, error)
	Format() string
}

// Exporter writes entity descriptors
type Exporter interface {
	Export(entities []*domain.Entity, w io.Writer) error
	Format() string
}

// GraphEncoder writes a materialized graph
type GraphEncoder interface {
	EncodeGraph(g *domain.Graph, w io.Writer) error
}

// Codec is implemented by every format in this package
type Codec interface {
	Importer
	Exporter
	GraphEncoder
}

// Lookup returns the codec for a format name ("yaml", "yml", "json")
func Lookup(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
}

// ForPath returns the codec matching a file's extension
func ForPath(path string) (Codec, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return nil, errors.Wrapf(ErrUnknownFormat, "%s has no extension", path)
	}
	return Lookup(ext)
}

// graphDocument is the encoded form of a graph
type graphDocument struct {
	Nodes []domain.GraphNode `json:"nodes" yaml:"nodes"`
	Edges []domain.GraphEdge `json:"edges" yaml:"edges"`
}

func newGraphDocument(g *domain.Graph) graphDocument {
	doc := graphDocument{
		Nodes: []domain.GraphNode{},
		Edges: []domain.GraphEdge{},
	}
	if g == nil {
		return doc
	}
	doc.Nodes = append(doc.Nodes, g.Nodes...)
	doc.Edges = append(doc.Edges, g.Edges...)
	return doc
}
