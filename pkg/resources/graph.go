package resources

// Handle is the registration index of a resource inside a Graph.
type Handle int

// Graph is the arena that owns every resource instance of one reconciliation
// pass. Resources register at construction and are never removed; the
// arena is discarded together with the pass. A Graph belongs to a single
// goroutine.
type Graph struct {
	resources []Resource
}

// NewGraph creates an empty arena.
func NewGraph() *Graph {
	return &Graph{}
}

// Add registers r and returns its handle.
func (g *Graph) Add(r Resource) Handle {
	g.resources = append(g.resources, r)
	return Handle(len(g.resources) - 1)
}

// Len returns the number of registered resources.
func (g *Graph) Len() int {
	return len(g.resources)
}
