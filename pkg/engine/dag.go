package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/stacker/pkg/template"
)

// Graph is the dependency graph of a template's resources.
type Graph struct {
	// Nodes maps resource names to their graph node.
	Nodes map[string]*GraphNode

	// Levels groups resources whose dependencies are all in earlier levels.
	Levels [][]string
}

// GraphNode is one resource in the graph.
type GraphNode struct {
	Name  string
	Type  string
	Level int

	// Dependencies must complete before this resource is created.
	Dependencies []string

	// Dependents must be deleted before this resource is deleted.
	Dependents []string
}

// Order returns every resource in creation order: by level, then by name.
func (g *Graph) Order() []string {
	order := make([]string, 0, len(g.Nodes))
	for _, level := range g.Levels {
		order = append(order, level...)
	}
	return order
}

// ReverseOrder returns every resource in deletion order.
func (g *Graph) ReverseOrder() []string {
	order := g.Order()
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// DAGBuilder builds a resource dependency graph from a template. Edges come
// from DependsOn and from Ref/Fn::GetAtt references between resources.
type DAGBuilder struct {
	tmpl *template.Template

	// adjacencyList maps resources to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps resources to their dependencies
	reverseAdjacencyList map[string][]string

	inDegree map[string]int
	levels   [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph validates dependencies, detects cycles and computes levels.
func (b *DAGBuilder) BuildGraph(tmpl *template.Template) (*Graph, error) {
	b.tmpl = tmpl

	if err := b.initialize(); err != nil {
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

func (b *DAGBuilder) initialize() error {
	names := b.tmpl.ResourceNames()
	for _, name := range names {
		b.adjacencyList[name] = make([]string, 0)
		b.reverseAdjacencyList[name] = make([]string, 0)
		b.inDegree[name] = 0
	}

	for _, name := range names {
		def := b.tmpl.Resources[name]
		for _, dep := range b.tmpl.Dependencies(def) {
			if _, exists := b.tmpl.Resources[dep]; !exists {
				return NewConfigurationError(
					fmt.Sprintf("resource %s depends on non-existent resource %s", name, dep), nil,
				).WithResource(name)
			}
			if dep == name {
				return NewConfigurationError(
					fmt.Sprintf("resource %s depends on itself", name), nil,
				).WithResource(name).WithCode(ErrCodeCycle)
			}

			// dependency must complete before the resource can start
			b.adjacencyList[dep] = append(b.adjacencyList[dep], name)
			b.reverseAdjacencyList[name] = append(b.reverseAdjacencyList[name], dep)
			b.inDegree[name]++
		}
	}

	for name := range b.adjacencyList {
		sort.Strings(b.adjacencyList[name])
	}
	return nil
}

// detectCycles uses depth-first search to find circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range b.tmpl.ResourceNames() {
		if visited[name] {
			continue
		}
		if cycle := b.detectCyclesUtil(name, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil,
			).WithCode(ErrCodeCycle)
		}
	}
	return nil
}

func (b *DAGBuilder) detectCyclesUtil(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dependent := range b.adjacencyList[name] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
			continue
		}
		if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	current := make([]string, 0)
	for name, degree := range b.inDegree {
		inDegree[name] = degree
		if degree == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range b.adjacencyList[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(b.inDegree) {
		return NewPermanentError("failed to order all resources", nil).WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *DAGBuilder) buildGraph() *Graph {
	g := &Graph{
		Nodes:  make(map[string]*GraphNode, len(b.inDegree)),
		Levels: b.levels,
	}
	for level, names := range b.levels {
		for _, name := range names {
			deps := append([]string{}, b.reverseAdjacencyList[name]...)
			sort.Strings(deps)
			g.Nodes[name] = &GraphNode{
				Name:         name,
				Type:         b.tmpl.Resources[name].Type,
				Level:        level,
				Dependencies: deps,
				Dependents:   b.adjacencyList[name],
			}
		}
	}
	return g
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Stack {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\"];\n", name, name, g.Nodes[name].Type)
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range g.Order() {
		for _, dep := range g.Nodes[name].Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, name)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
