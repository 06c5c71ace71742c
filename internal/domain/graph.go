package domain

import "sort"

// Graph is the node/edge set handed to a layout engine
type Graph struct {
	Nodes []GraphNode `json:"nodes" yaml:"nodes"`
	Edges []GraphEdge `json:"edges" yaml:"edges"`
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		Nodes: make([]GraphNode, 0),
		Edges: make([]GraphEdge, 0),
	}
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node GraphNode) {
	g.Nodes = append(g.Nodes, node)
}

// AddEdge adds an edge to the graph
func (g *Graph) AddEdge(edge GraphEdge) {
	g.Edges = append(g.Edges, edge)
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (GraphNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return GraphNode{}, false
}

// HasEdge reports whether an edge from -> to exists
func (g *Graph) HasEdge(from, to string) bool {
	for _, e := range g.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// EdgesBetween returns the edges joining a and b in either direction
func (g *Graph) EdgesBetween(a, b string) []GraphEdge {
	var out []GraphEdge
	for _, e := range g.Edges {
		if (e.From == a && e.To == b) || (e.From == b && e.To == a) {
			out = append(out, e)
		}
	}
	return out
}

// NodeIDs returns the sorted node ids
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return ids
}

// Empty reports whether the graph has no nodes
func (g *Graph) Empty() bool {
	return g == nil || len(g.Nodes) == 0
}

// Sort orders nodes by id and edges by key so output is stable
func (g *Graph) Sort() {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].Key() < g.Edges[j].Key() })
}
