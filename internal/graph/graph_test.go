package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kai-ws/internal/workspace"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func newWorkspace(t *testing.T, root string, cfg workspace.Config) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(root, cfg)
	require.NoError(t, err)
	return ws
}

func sampleConfig() workspace.Config {
	return workspace.Config{
		NpmScope: "acme",
		Aliases:  map[string]string{"@vendor/charts": "libs/viz/charts"},
		Projects: []workspace.Project{
			{Name: "web", Kind: workspace.KindApp, Root: "apps/web"},
			{Name: "admin", Kind: workspace.KindApp, Root: "apps/admin"},
			{Name: "core", Kind: workspace.KindLib, Root: "libs/core"},
			{Name: "utils", Kind: workspace.KindLib, Root: "libs/utils"},
			{Name: "shared-ui", Kind: workspace.KindLib, Root: "libs/shared/ui"},
			{Name: "charts", Kind: workspace.KindLib, Root: "libs/viz/charts"},
		},
	}
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"apps/web/src/main.ts": `
import { enableProdMode } from '@angular/core';
import { Core } from '@acme/core';
import { Button } from '@acme/shared/ui';
import { helper } from './app/helper';
`,
		"apps/web/src/app/helper.ts": `export const helper = 1;`,
		"apps/admin/src/main.tsx": `
import React from 'react';
import { Chart } from '@vendor/charts/line';
import { Button } from '../../../libs/shared/ui/src/button';
`,
		"libs/core/src/index.ts": `
import { format } from '@acme/utils/src/format';
import { self } from '@acme/core';
`,
		"libs/utils/src/format.js":    `const _ = require('lodash');`,
		"libs/utils/README.md":        `import x from '@acme/core'`,
		"libs/shared/ui/src/button.ts": `export class Button {}`,
		"libs/viz/charts/src/line.ts":  `import { Core } from '@acme/core';`,
		"libs/utils/node_modules/x/index.js": `import '@acme/web';`,
	})

	ws := newWorkspace(t, root, sampleConfig())
	g, err := NewBuilder(ws).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Edge{
		{From: "admin", To: "charts"},
		{From: "admin", To: "shared-ui"},
		{From: "charts", To: "core"},
		{From: "core", To: "utils"},
		{From: "web", To: "core"},
		{From: "web", To: "shared-ui"},
	}, g.Edges())

	assert.Equal(t, []string{"admin", "charts", "core", "shared-ui", "utils", "web"}, g.Names())
	assert.Equal(t, []string{"charts", "web"}, g.Dependents("core"))
	assert.Equal(t, []string{"core", "shared-ui"}, g.Dependencies("web"))
	assert.True(t, g.HasEdge("core", "utils"))
	assert.False(t, g.HasEdge("utils", "core"))
	assert.Empty(t, g.Cycles())
}

func TestBuild_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"apps/web/a.ts":        `import '@acme/core'; import '@acme/utils';`,
		"apps/web/b.ts":        `import '@acme/utils';`,
		"libs/core/index.ts":   `import '@acme/utils';`,
		"libs/utils/index.ts":  ``,
		"libs/shared/ui/x.ts":  ``,
		"libs/viz/charts/y.ts": ``,
	})
	ws := newWorkspace(t, root, sampleConfig())

	first, err := NewBuilder(ws).Build(context.Background())
	require.NoError(t, err)
	second, err := NewBuilder(ws).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Edges(), second.Edges())
	assert.Len(t, first.Edges(), 3)
}

func TestBuild_OverlappingRoots(t *testing.T) {
	root := t.TempDir()
	cfg := workspace.Config{Projects: []workspace.Project{
		{Name: "shared", Kind: workspace.KindLib, Root: "libs/shared"},
		{Name: "shared-ui", Kind: workspace.KindLib, Root: "libs/shared/ui"},
		{Name: "web", Kind: workspace.KindApp, Root: "apps/web"},
	}}
	ws := newWorkspace(t, root, cfg)

	_, err := NewBuilder(ws).Build(context.Background())
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	require.Len(t, rerr.Overlaps, 1)
	assert.Equal(t, "shared", rerr.Overlaps[0].Outer)
	assert.Equal(t, "shared-ui", rerr.Overlaps[0].Inner)
	assert.Contains(t, err.Error(), "libs/shared/ui")
}

func TestCheckRoots_IdenticalRoots(t *testing.T) {
	err := CheckRoots([]workspace.Project{
		{Name: "b", Root: "libs/x"},
		{Name: "a", Root: "libs/x"},
	})
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	require.Len(t, rerr.Overlaps, 1)
	assert.Equal(t, "a", rerr.Overlaps[0].Outer)
}

func TestBuild_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"apps/web/main.ts": ``})
	ws := newWorkspace(t, root, sampleConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(ws).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	projects := []workspace.Project{{Name: "a"}, {Name: "b"}}

	g, err := New(projects, []Edge{{"a", "b"}, {"a", "b"}, {"a", "a"}})
	require.NoError(t, err)
	assert.Equal(t, []Edge{{From: "a", To: "b"}}, g.Edges())

	_, err = New(projects, []Edge{{"a", "missing"}})
	assert.Error(t, err)
}

func TestCycles(t *testing.T) {
	projects := []workspace.Project{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
	g, err := New(projects, []Edge{
		{"a", "b"}, {"b", "c"}, {"c", "a"},
		{"c", "d"},
		{"d", "e"}, {"e", "d"},
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e"}}, g.Cycles())
}

func TestResolver(t *testing.T) {
	ws := newWorkspace(t, "/repo", sampleConfig())
	r := NewResolver(ws)

	tests := []struct {
		from string
		ref  string
		want string
	}{
		{"apps/web/src/main.ts", "@acme/core", "core"},
		{"apps/web/src/main.ts", "@acme/core/src/deep", "core"},
		{"apps/web/src/main.ts", "@acme/shared/ui", "shared-ui"},
		{"apps/web/src/main.ts", "@acme/shared-ui", "shared-ui"},
		{"apps/web/src/main.ts", "@acme/unknown", ""},
		{"apps/web/src/main.ts", "@acme/", ""},
		{"apps/web/src/main.ts", "@vendor/charts", "charts"},
		{"apps/web/src/main.ts", "@vendor/charts/bar", "charts"},
		{"apps/web/src/main.ts", "@vendor/chartsx", ""},
		{"apps/web/src/main.ts", "./app", "web"},
		{"apps/web/src/main.ts", "../../../libs/utils/index", "utils"},
		{"apps/web/src/main.ts", "../../../../outside", ""},
		{"apps/web/src/main.ts", "lodash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := r.Resolve(tt.from, tt.ref)
			if tt.want == "" {
				assert.False(t, ok, "resolved to %q", got)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, r.IsWorkspaceRef("@acme/anything"))
	assert.True(t, r.IsWorkspaceRef("@vendor/charts/x"))
	assert.False(t, r.IsWorkspaceRef("@angular/core"))
}
