package domain

// Relation is a directed, typed edge from an entity to another entity
type Relation struct {
	Type      string `json:"type" yaml:"type"`
	TargetRef string `json:"targetRef" yaml:"targetRef"`
}

// EntityMetadata holds the identifying and descriptive fields of an entity
type EntityMetadata struct {
	Name        string            `json:"name" yaml:"name"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Entity is a catalog record. Fetched entities are shared between callers and
// must not be modified.
type Entity struct {
	APIVersion string         `json:"apiVersion" yaml:"apiVersion"`
	Kind       string         `json:"kind" yaml:"kind"`
	Metadata   EntityMetadata `json:"metadata" yaml:"metadata"`
	Spec       map[string]any `json:"spec,omitempty" yaml:"spec,omitempty"`
	Relations  []Relation     `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Ref returns the entity's reference
func (e *Entity) Ref() EntityRef {
	return NewEntityRef(e.Kind, e.Metadata.Namespace, e.Metadata.Name)
}

// Namespace returns the metadata namespace or the default namespace
func (e *Entity) Namespace() string {
	if e.Metadata.Namespace == "" {
		return DefaultNamespace
	}
	return e.Metadata.Namespace
}

// SpecString gets a spec field as a string
func (e *Entity) SpecString(key string) string {
	if e.Spec == nil {
		return ""
	}
	if s, ok := e.Spec[key].(string); ok {
		return s
	}
	return ""
}

// SpecStrings gets a spec field as a string list. A single string is
// returned as a one-element list.
func (e *Entity) SpecStrings(key string) []string {
	if e.Spec == nil {
		return nil
	}
	switch v := e.Spec[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasRelation reports whether the entity carries the given relation
func (e *Entity) HasRelation(relType, targetRef string) bool {
	target := CanonicalRef(targetRef)
	for _, rel := range e.Relations {
		if rel.Type == relType && CanonicalRef(rel.TargetRef) == target {
			return true
		}
	}
	return false
}

// Clone returns a copy that can be modified without affecting the original
func (e *Entity) Clone() *Entity {
	c := *e
	c.Metadata.Labels = cloneStringMap(e.Metadata.Labels)
	c.Metadata.Annotations = cloneStringMap(e.Metadata.Annotations)
	if e.Metadata.Tags != nil {
		c.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	}
	if e.Spec != nil {
		c.Spec = make(map[string]any, len(e.Spec))
		for k, v := range e.Spec {
			c.Spec[k] = v
		}
	}
	if e.Relations != nil {
		c.Relations = append([]Relation(nil), e.Relations...)
	}
	return &c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
