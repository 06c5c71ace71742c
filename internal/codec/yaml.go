package codec

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"entitygraph/internal/domain"
)

// YAMLCodec handles multi-document YAML descriptor files
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Parse reads every document in r as one entity. Empty documents are skipped.
func (c *YAMLCodec) Parse(r io.Reader) ([]*domain.Entity, error) {
	decoder := yaml.NewDecoder(r)

	var entities []*domain.Entity
	for doc := 1; ; doc++ {
		var node yaml.Node
		err := decoder.Decode(&node)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parse YAML document %d", doc)
		}
		if isEmptyDocument(&node) {
			continue
		}

		var e domain.Entity
		if err := node.Decode(&e); err != nil {
			return nil, errors.Wrapf(err, "decode entity in YAML document %d", doc)
		}
		entities = append(entities, &e)
	}

	return entities, nil
}

func isEmptyDocument(node *yaml.Node) bool {
	if node.Kind == 0 {
		return true
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return true
		}
		node = node.Content[0]
	}
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

// Export writes each entity as its own document
func (c *YAMLCodec) Export(entities []*domain.Entity, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	for _, e := range entities {
		if err := encoder.Encode(e); err != nil {
			return errors.Wrapf(err, "encode %s", e.Ref())
		}
	}
	return errors.Wrap(encoder.Close(), "flush YAML")
}

// EncodeGraph writes the graph as a single YAML document
func (c *YAMLCodec) EncodeGraph(g *domain.Graph, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(newGraphDocument(g)); err != nil {
		return errors.Wrap(err, "encode graph")
	}
	return errors.Wrap(encoder.Close(), "flush YAML")
}
