package domain

// GraphNode is one rendered node per distinct entity reference
type GraphNode struct {
	ID        string `json:"id" yaml:"id"`
	Kind      string `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Focused   bool   `json:"focused" yaml:"focused"`
}

// NewGraphNode creates a node for an entity stored under ref
func NewGraphNode(ref string, entity *Entity, focused bool) GraphNode {
	return GraphNode{
		ID:        ref,
		Kind:      entity.Kind,
		Namespace: entity.Namespace(),
		Name:      entity.Metadata.Name,
		Title:     entity.Metadata.Title,
		Focused:   focused,
	}
}

// Label returns the display label, preferring the title
func (n GraphNode) Label() string {
	if n.Title != "" {
		return n.Title
	}
	if n.Namespace == DefaultNamespace || n.Namespace == "" {
		return n.Name
	}
	return n.Namespace + "/" + n.Name
}
