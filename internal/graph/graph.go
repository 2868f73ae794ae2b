// Package graph builds and queries the project dependency graph of a
// workspace.
package graph

import (
	"fmt"
	"sort"

	"kai-ws/internal/workspace"
)

// Edge means From depends on To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed graph of project dependencies. It is built once per
// invocation and not modified afterwards.
type Graph struct {
	nodes map[string]workspace.Project
	deps  map[string]map[string]bool
	rdeps map[string]map[string]bool
}

func newGraph(projects []workspace.Project) *Graph {
	g := &Graph{
		nodes: make(map[string]workspace.Project, len(projects)),
		deps:  make(map[string]map[string]bool, len(projects)),
		rdeps: make(map[string]map[string]bool, len(projects)),
	}
	for _, p := range projects {
		g.nodes[p.Name] = p
		g.deps[p.Name] = make(map[string]bool)
		g.rdeps[p.Name] = make(map[string]bool)
	}
	return g
}

// New creates a graph from explicit nodes and edges. Duplicate edges are
// collapsed and self references dropped.
func New(projects []workspace.Project, edges []Edge) (*Graph, error) {
	g := newGraph(projects)
	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("edge %s -> %s: unknown project %q", e.From, e.To, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("edge %s -> %s: unknown project %q", e.From, e.To, e.To)
		}
		g.addEdge(e.From, e.To)
	}
	return g, nil
}

// addEdge reports whether a new edge was inserted.
func (g *Graph) addEdge(from, to string) bool {
	if from == to || g.deps[from][to] {
		return false
	}
	g.deps[from][to] = true
	g.rdeps[to][from] = true
	return true
}

// Node returns the project with the given name.
func (g *Graph) Node(name string) (workspace.Project, bool) {
	p, ok := g.nodes[name]
	return p, ok
}

// Len returns the number of projects.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Names returns all project names, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Nodes returns all projects sorted by name.
func (g *Graph) Nodes() []workspace.Project {
	out := make([]workspace.Project, 0, len(g.nodes))
	for _, name := range g.Names() {
		out = append(out, g.nodes[name])
	}
	return out
}

// Edges returns every edge sorted by (From, To).
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.Names() {
		for _, to := range sortedKeys(g.deps[from]) {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// HasEdge reports whether from depends on to.
func (g *Graph) HasEdge(from, to string) bool {
	return g.deps[from][to]
}

// Dependencies returns the projects name depends on, sorted.
func (g *Graph) Dependencies(name string) []string {
	return sortedKeys(g.deps[name])
}

// Dependents returns the projects depending on name, sorted.
func (g *Graph) Dependents(name string) []string {
	return sortedKeys(g.rdeps[name])
}

// Cycles returns the strongly connected components with more than one
// project. Members are sorted and components are ordered by first member.
func (g *Graph) Cycles() [][]string {
	t := &tarjan{
		g:       g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, name := range g.Names() {
		if _, visited := t.index[name]; !visited {
			t.strongConnect(name)
		}
	}
	sort.Slice(t.components, func(i, j int) bool {
		return t.components[i][0] < t.components[j][0]
	})
	return t.components
}

type tarjan struct {
	g          *Graph
	next       int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.next
	t.lowlink[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.Dependencies(v) {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			t.lowlink[v] = min(t.lowlink[v], t.lowlink[w])
		} else if t.onStack[w] {
			t.lowlink[v] = min(t.lowlink[v], t.index[w])
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}

	var component []string
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		component = append(component, w)
		if w == v {
			break
		}
	}
	if len(component) > 1 {
		sort.Strings(component)
		t.components = append(t.components, component)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
