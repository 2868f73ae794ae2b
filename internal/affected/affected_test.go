package affected

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kai-ws/internal/changeset"
	"kai-ws/internal/graph"
	"kai-ws/internal/workspace"
)

// web -> core -> utils, plus an unrelated leaf lib.
func fixture(t *testing.T, cfgMod ...func(*workspace.Config)) (*graph.Graph, *workspace.Workspace) {
	t.Helper()
	cfg := workspace.Config{Projects: []workspace.Project{
		{Name: "web", Kind: workspace.KindApp, Root: "apps/web"},
		{Name: "core", Kind: workspace.KindLib, Root: "libs/core"},
		{Name: "utils", Kind: workspace.KindLib, Root: "libs/utils"},
		{Name: "leaf", Kind: workspace.KindLib, Root: "libs/leaf"},
	}}
	for _, mod := range cfgMod {
		mod(&cfg)
	}
	ws, err := workspace.New("/repo", cfg)
	require.NoError(t, err)

	g, err := graph.New(ws.Projects(), []graph.Edge{
		{From: "web", To: "core"},
		{From: "core", To: "utils"},
	})
	require.NoError(t, err)
	return g, ws
}

func TestCompute(t *testing.T) {
	g, ws := fixture(t)

	tests := []struct {
		name    string
		changes changeset.ChangeSet
		want    []string
		apps    []string
		libs    []string
	}{
		{
			name:    "utils change ripples to dependents",
			changes: changeset.ChangeSet{"libs/utils/src/format.ts"},
			want:    []string{"core", "utils", "web"},
			apps:    []string{"web"},
			libs:    []string{"core", "utils"},
		},
		{
			name:    "app change stays local",
			changes: changeset.ChangeSet{"apps/web/src/main.ts"},
			want:    []string{"web"},
			apps:    []string{"web"},
			libs:    []string{},
		},
		{
			name:    "leaf without dependents",
			changes: changeset.ChangeSet{"libs/leaf/index.ts"},
			want:    []string{"leaf"},
			apps:    []string{},
			libs:    []string{"leaf"},
		},
		{
			name:    "workspace-wide file",
			changes: changeset.ChangeSet{"apps/web/main.ts", "package.json"},
			want:    []string{"core", "leaf", "utils", "web"},
			apps:    []string{"web"},
			libs:    []string{"core", "leaf", "utils"},
		},
		{
			name:    "empty change set",
			changes: changeset.ChangeSet{},
			want:    []string{},
			apps:    []string{},
			libs:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute(g, ws, tt.changes)
			assert.Equal(t, tt.want, res.Projects)
			assert.Equal(t, tt.apps, res.Apps())
			assert.Equal(t, tt.libs, res.Libs())
		})
	}
}

func TestCompute_DoesNotMutateGraph(t *testing.T) {
	g, ws := fixture(t)
	before := g.Edges()
	Compute(g, ws, changeset.ChangeSet{"package.json"})
	assert.Equal(t, before, g.Edges())
}

func TestTouched_ImplicitFiles(t *testing.T) {
	_, ws := fixture(t, func(c *workspace.Config) {
		c.ImplicitFiles = []string{"package.json", "tsconfig*.json"}
	})

	assert.Equal(t, []string{"core"}, Touched(ws, changeset.ChangeSet{"libs/core/a.ts", "README.md"}))
	assert.Equal(t, []string{"core", "leaf", "utils", "web"}, Touched(ws, changeset.ChangeSet{"tsconfig.base.json"}))
}

func TestResult_Contains(t *testing.T) {
	g, ws := fixture(t)
	res := Compute(g, ws, changeset.ChangeSet{"libs/core/a.ts"})
	assert.True(t, res.Contains("core"))
	assert.True(t, res.Contains("web"))
	assert.False(t, res.Contains("utils"))
}

func TestClosure_Cycles(t *testing.T) {
	projects := []workspace.Project{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	g, err := graph.New(projects, []graph.Edge{
		{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "a"},
		{From: "d", To: "a"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, Closure(g, []string{"b"}))
	assert.Equal(t, []string{"d"}, Closure(g, []string{"d"}))
	assert.Equal(t, []string{"a"}, Closure(graphWithSelf(t), []string{"a"}))
	assert.Empty(t, Closure(g, []string{"unknown"}))
}

func graphWithSelf(t *testing.T) *graph.Graph {
	g, err := graph.New([]workspace.Project{{Name: "a"}}, []graph.Edge{{From: "a", To: "a"}})
	require.NoError(t, err)
	return g
}

// Closure is a superset of its input and idempotent on random graphs.
func TestClosure_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	projects := make([]workspace.Project, len(names))
	for i, n := range names {
		projects[i] = workspace.Project{Name: n}
	}

	for iter := 0; iter < 200; iter++ {
		var edges []graph.Edge
		for _, from := range names {
			for _, to := range names {
				if rng.Intn(5) == 0 {
					edges = append(edges, graph.Edge{From: from, To: to})
				}
			}
		}
		g, err := graph.New(projects, edges)
		require.NoError(t, err)

		var touched []string
		for _, n := range names {
			if rng.Intn(3) == 0 {
				touched = append(touched, n)
			}
		}

		closure := Closure(g, touched)
		set := make(map[string]bool)
		for _, n := range closure {
			set[n] = true
		}
		for _, n := range touched {
			assert.True(t, set[n], "closure must contain touched project %s", n)
		}
		assert.Equal(t, closure, Closure(g, closure))

		for _, n := range closure {
			for _, dep := range g.Dependents(n) {
				assert.True(t, set[dep], "dependent %s of %s missing", dep, n)
			}
		}
	}
}
