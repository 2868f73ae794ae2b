// Package affected maps changed files onto workspace projects and expands
// them to every project that transitively depends on a touched one.
package affected

import (
	"sort"

	"kai-ws/internal/changeset"
	"kai-ws/internal/graph"
	"kai-ws/internal/workspace"
)

// Result is the outcome of an affected computation.
type Result struct {
	// Touched are projects directly containing a changed file.
	Touched []string
	// Projects is Touched plus all transitive dependents, sorted.
	Projects []string

	kinds map[string]workspace.Kind
}

// Apps returns the affected applications, sorted.
func (r Result) Apps() []string {
	return r.ofKind(workspace.KindApp)
}

// Libs returns the affected libraries, sorted.
func (r Result) Libs() []string {
	return r.ofKind(workspace.KindLib)
}

// Contains reports whether name is affected.
func (r Result) Contains(name string) bool {
	i := sort.SearchStrings(r.Projects, name)
	return i < len(r.Projects) && r.Projects[i] == name
}

func (r Result) ofKind(kind workspace.Kind) []string {
	out := []string{}
	for _, name := range r.Projects {
		if r.kinds[name] == kind {
			out = append(out, name)
		}
	}
	return out
}

// Compute returns the projects affected by changes. It never modifies g.
func Compute(g *graph.Graph, ws *workspace.Workspace, changes changeset.ChangeSet) Result {
	touched := Touched(ws, changes)
	projects := Closure(g, touched)

	kinds := make(map[string]workspace.Kind, len(projects))
	for _, name := range projects {
		if p, ok := g.Node(name); ok {
			kinds[name] = p.Kind
		}
	}
	return Result{Touched: touched, Projects: projects, kinds: kinds}
}

// Touched maps each changed path to the project whose root is its longest
// prefix. A path outside every project root is a workspace-wide change and
// touches every project. When implicitFiles globs are configured only
// unowned paths matching them count as workspace-wide; other unowned paths
// are ignored.
func Touched(ws *workspace.Workspace, changes changeset.ChangeSet) []string {
	narrow := len(ws.Config.ImplicitFiles) > 0
	set := make(map[string]bool)
	for _, p := range changes {
		if owner, ok := ws.Owner(p); ok {
			set[owner.Name] = true
			continue
		}
		if narrow && !ws.IsImplicitFile(p) {
			continue
		}
		return ws.Names()
	}
	return sortedSet(set)
}

// Closure returns touched plus every project reachable by following
// dependency edges backwards, sorted. Traversal is breadth-first with a
// visited set, so cycles terminate. Names unknown to g are dropped.
func Closure(g *graph.Graph, touched []string) []string {
	visited := make(map[string]bool, len(touched))
	var queue []string
	for _, name := range touched {
		if _, ok := g.Node(name); !ok || visited[name] {
			continue
		}
		visited[name] = true
		queue = append(queue, name)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range g.Dependents(current) {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			queue = append(queue, dependent)
		}
	}

	return sortedSet(visited)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
