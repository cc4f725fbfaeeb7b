package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/resources"
)

// DependencyGraph is the reference graph of a set of resources. Edges point
// from a referenced resource to the resource referencing it.
type DependencyGraph struct {
	Nodes map[string]*GraphNode
	Edges []GraphEdge
	// Roots are the resources without references.
	Roots []string
	// Levels groups node ids by their longest distance from a root.
	Levels [][]string
}

// GraphNode is one resource in a DependencyGraph.
type GraphNode struct {
	ID           string
	Kind         api.Kind
	Name         string
	Level        int
	Dependencies []string
	Dependents   []string
}

// GraphEdge is a reference from To onto From.
type GraphEdge struct {
	From string
	To   string
}

// NodeID returns the graph node id of a resource.
func NodeID(kind api.Kind, name string) string {
	return string(kind) + "/" + name
}

// GraphBuilder builds a DependencyGraph from a DiffContext.
type GraphBuilder struct {
	nodes map[string]resources.Resource

	// adjacencyList maps node ids to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps node ids to their dependencies
	reverseAdjacencyList map[string][]string

	inDegree map[string]int
	levels   [][]string
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes:                make(map[string]resources.Resource),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildDependencyGraph builds the reference graph of every resource in dc.
func BuildDependencyGraph(dc *resources.DiffContext) (*DependencyGraph, error) {
	b := NewGraphBuilder()
	return b.Build(dc.All())
}

// Build validates references, detects cycles and computes levels.
func (b *GraphBuilder) Build(rs []resources.Resource) (*DependencyGraph, error) {
	if err := b.initialize(rs); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return b.buildGraph(), nil
}

func (b *GraphBuilder) initialize(rs []resources.Resource) error {
	for _, r := range rs {
		id := NodeID(r.Kind(), r.Name())
		if _, exists := b.nodes[id]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate resource: %s", id), nil).
				WithCode(ErrCodeValidation)
		}
		b.nodes[id] = r
		b.adjacencyList[id] = nil
		b.reverseAdjacencyList[id] = nil
		b.inDegree[id] = 0
	}

	for _, id := range b.sortedIDs() {
		r := b.nodes[id]
		seen := make(map[string]bool)
		for _, ref := range r.References() {
			target := NodeID(ref.Kind, ref.Name)
			if seen[target] {
				continue
			}
			seen[target] = true

			if _, exists := b.nodes[target]; !exists {
				return NewPermanentError(
					fmt.Sprintf("%s references unknown %s", id, target),
					&resources.UnresolvedReferenceError{Kind: ref.Kind, Name: ref.Name},
				).WithCode(ErrCodeUnresolvedReference).WithResource(r)
			}

			b.adjacencyList[target] = append(b.adjacencyList[target], id)
			b.reverseAdjacencyList[id] = append(b.reverseAdjacencyList[id], target)
			b.inDegree[id]++
		}
	}
	return nil
}

// detectCycles uses depth-first search to detect circular references.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dependent := range b.adjacencyList[id] {
			if !visited[dependent] {
				if cycle := visit(dependent, path); cycle != nil {
					return cycle
				}
			} else if onStack[dependent] {
				for i, p := range path {
					if p == dependent {
						return append(append([]string(nil), path[i:]...), dependent)
					}
				}
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular reference detected: %s", strings.Join(cycle, " -> ")),
				nil,
			).WithCode(ErrCodeValidation)
		}
	}
	return nil
}

// computeLevels assigns levels using Kahn's algorithm.
func (b *GraphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range b.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.nodes) {
		return NewPermanentError("failed to order all resources, possible cycle", nil).
			WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *GraphBuilder) buildGraph() *DependencyGraph {
	g := &DependencyGraph{
		Nodes:  make(map[string]*GraphNode, len(b.nodes)),
		Levels: b.levels,
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			r := b.nodes[id]
			g.Nodes[id] = &GraphNode{
				ID:           id,
				Kind:         r.Kind(),
				Name:         r.Name(),
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
			if level == 0 {
				g.Roots = append(g.Roots, id)
			}
		}
	}

	for _, id := range b.sortedIDs() {
		for _, dep := range b.reverseAdjacencyList[id] {
			g.Edges = append(g.Edges, GraphEdge{From: dep, To: id})
		}
	}
	return g
}

func (b *GraphBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Depth returns the number of levels.
func (g *DependencyGraph) Depth() int {
	return len(g.Levels)
}

// ToDOT renders the graph in DOT format. diff, if not nil, colors nodes by
// the operation planned for them.
func (g *DependencyGraph) ToDOT(diff *GraphDiff) string {
	var sb strings.Builder

	sb.WriteString("digraph Resources {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			n := g.Nodes[id]
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				id, n.Name, n.Kind, operationColor(plannedOperation(diff, n))))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", e.From, e.To))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func plannedOperation(diff *GraphDiff, n *GraphNode) string {
	if diff == nil {
		return ""
	}
	if _, ok := diff.ToCreate.Get(n.Kind, n.Name); ok {
		return OpCreate
	}
	if _, ok := diff.ToUpdate.Get(n.Kind, n.Name); ok {
		return OpUpdate
	}
	if _, ok := diff.ToDelete.Get(n.Kind, n.Name); ok {
		return OpDelete
	}
	return ""
}

func operationColor(op string) string {
	switch op {
	case OpCreate:
		return "lightgreen"
	case OpUpdate:
		return "lightblue"
	case OpDelete:
		return "lightcoral"
	default:
		return "lightgray"
	}
}
