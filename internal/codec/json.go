package codec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"entitygraph/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// jsonList is the envelope returned by catalog APIs
type jsonList struct {
	Items []*domain.Entity `json:"items"`
}

// Parse accepts an array of entities, an {"items": [...]} envelope or a
// single entity object.
func (c *JSONCodec) Parse(r io.Reader) ([]*domain.Entity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read JSON")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var entities []*domain.Entity
		if err := json.Unmarshal(data, &entities); err != nil {
			return nil, errors.Wrap(err, "parse JSON entity array")
		}
		return compact(entities), nil

	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, errors.Wrap(err, "parse JSON")
		}
		if _, ok := probe["items"]; ok {
			var list jsonList
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, errors.Wrap(err, "parse JSON entity list")
			}
			return compact(list.Items), nil
		}
		var e domain.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Wrap(err, "parse JSON entity")
		}
		return []*domain.Entity{&e}, nil
	}

	return nil, errors.New("parse JSON: expected an array or an object")
}

// compact drops null array members
func compact(entities []*domain.Entity) []*domain.Entity {
	out := entities[:0]
	for _, e := range entities {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Export writes an {"items": [...]} envelope
func (c *JSONCodec) Export(entities []*domain.Entity, w io.Writer) error {
	if entities == nil {
		entities = []*domain.Entity{}
	}
	return c.encode(jsonList{Items: entities}, w)
}

// EncodeGraph writes the graph as a JSON object
func (c *JSONCodec) EncodeGraph(g *domain.Graph, w io.Writer) error {
	return c.encode(newGraphDocument(g), w)
}

func (c *JSONCodec) encode(v any, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return errors.Wrap(err, "encode JSON")
	}
	return nil
}
