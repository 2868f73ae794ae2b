package changeset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRepo struct {
	t    *testing.T
	root string
	repo *git.Repository
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	return &testRepo{t: t, root: root, repo: repo}
}

func (r *testRepo) write(rel, content string) {
	r.t.Helper()
	full := filepath.Join(r.root, filepath.FromSlash(rel))
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0644))
}

func (r *testRepo) remove(rel string) {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	_, err = wt.Remove(rel)
	require.NoError(r.t, err)
}

func (r *testRepo) commit(msg string) string {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, wt.AddWithOptions(&git.AddOptions{All: true}))
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(r.t, err)
	return hash.String()
}

func TestFromFiles(t *testing.T) {
	cs, err := FromFiles([]string{"libs/core/index.ts, apps/web/main.ts", "libs/core/index.ts", "./package.json,"})
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"libs/core/index.ts", "apps/web/main.ts", "package.json"}, cs)

	cs, err = FromFiles([]string{"libs/deleted/file.ts"})
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"libs/deleted/file.ts"}, cs)

	for _, bad := range []string{"/etc/passwd", "../outside.ts", "a/../../b"} {
		_, err := FromFiles([]string{bad})
		var scErr *SourceControlError
		assert.True(t, errors.As(err, &scErr), bad)
	}
}

func TestFromRevisions(t *testing.T) {
	r := newTestRepo(t)
	r.write("package.json", "{}")
	r.write("libs/core/index.ts", "export const a = 1;")
	r.write("libs/utils/old.ts", "export const b = 1;")
	base := r.commit("initial")

	r.write("libs/core/index.ts", "export const a = 2;")
	r.write("apps/web/main.ts", "import '@acme/core';")
	r.remove("libs/utils/old.ts")
	head := r.commit("change")

	cs, err := NewResolver(r.root).FromRevisions(context.Background(), base, head)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"apps/web/main.ts", "libs/core/index.ts", "libs/utils/old.ts"}, []string(cs))

	cs, err = NewResolver(r.root).FromRevisions(context.Background(), head, head)
	require.NoError(t, err)
	assert.Empty(t, cs)

	cs, err = NewResolver(r.root).FromRevisions(context.Background(), base, "HEAD")
	require.NoError(t, err)
	assert.Len(t, cs, 3)
}

func TestFromRevisions_WorkspaceSubdirectory(t *testing.T) {
	r := newTestRepo(t)
	r.write("frontend/kai.workspace.yaml", "projects: []")
	r.write("frontend/libs/core/index.ts", "1")
	r.write("backend/main.go", "package main")
	base := r.commit("initial")

	r.write("frontend/libs/core/index.ts", "2")
	r.write("backend/main.go", "package main // changed")
	head := r.commit("change")

	ws := filepath.Join(r.root, "frontend")
	cs, err := NewResolver(ws).FromRevisions(context.Background(), base, head)
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"libs/core/index.ts"}, cs)
}

func TestResolve_PatchInWorkspaceSubdirectory(t *testing.T) {
	r := newTestRepo(t)
	r.write("frontend/kai.workspace.yaml", "projects: []")
	r.write("frontend/libs/core/a.ts", "1")
	r.commit("initial")

	patch := `diff --git a/frontend/libs/core/a.ts b/frontend/libs/core/a.ts
index 1111111..2222222 100644
--- a/frontend/libs/core/a.ts
+++ b/frontend/libs/core/a.ts
@@ -1 +1 @@
-1
+2
diff --git a/backend/main.go b/backend/main.go
index 3333333..4444444 100644
--- a/backend/main.go
+++ b/backend/main.go
@@ -1 +1 @@
-package main
+package main // changed
`
	ws := filepath.Join(r.root, "frontend")
	res := NewResolver(ws, WithStdin(strings.NewReader(patch)))
	cs, err := res.Resolve(context.Background(), Input{Patch: "-"})
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"libs/core/a.ts"}, cs)

	// At the repository root the paths are kept as they are.
	res = NewResolver(r.root, WithStdin(strings.NewReader(patch)))
	cs, err = res.Resolve(context.Background(), Input{Patch: "-"})
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"frontend/libs/core/a.ts", "backend/main.go"}, cs)
}

func TestFromRevisions_Errors(t *testing.T) {
	r := newTestRepo(t)
	r.write("a.ts", "1")
	head := r.commit("initial")

	res := NewResolver(r.root)
	_, err := res.FromRevisions(context.Background(), "does-not-exist", head)
	var scErr *SourceControlError
	require.ErrorAs(t, err, &scErr)
	assert.Contains(t, scErr.Error(), "does-not-exist")
	assert.Contains(t, scErr.Guidance(), "--files")

	_, err = res.FromRevisions(context.Background(), head, "")
	assert.ErrorAs(t, err, &scErr)

	_, err = NewResolver(t.TempDir()).FromRevisions(context.Background(), "a", "b")
	assert.ErrorAs(t, err, &scErr)
}

const samplePatch = `diff --git a/libs/core/index.ts b/libs/core/index.ts
index 1111111..2222222 100644
--- a/libs/core/index.ts
+++ b/libs/core/index.ts
@@ -1 +1 @@
-export const a = 1;
+export const a = 2;
diff --git a/apps/web/new.ts b/apps/web/new.ts
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/apps/web/new.ts
@@ -0,0 +1 @@
+export const b = 1;
diff --git a/libs/utils/gone.ts b/libs/utils/gone.ts
deleted file mode 100644
index 4444444..0000000
--- a/libs/utils/gone.ts
+++ /dev/null
@@ -1 +0,0 @@
-export const c = 1;
`

func TestFromPatch(t *testing.T) {
	cs, err := FromPatch(strings.NewReader(samplePatch))
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"libs/core/index.ts", "apps/web/new.ts", "libs/utils/gone.ts"}, cs)

	cs, err = FromPatch(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestResolve(t *testing.T) {
	res := NewResolver(t.TempDir(), WithStdin(strings.NewReader(samplePatch)))

	cs, err := res.Resolve(context.Background(), Input{Patch: "-"})
	require.NoError(t, err)
	assert.Len(t, cs, 3)

	cs, err = res.Resolve(context.Background(), Input{Files: []string{"a.ts,b.ts"}})
	require.NoError(t, err)
	assert.Equal(t, ChangeSet{"a.ts", "b.ts"}, cs)

	var scErr *SourceControlError
	_, err = res.Resolve(context.Background(), Input{})
	assert.ErrorAs(t, err, &scErr)

	_, err = res.Resolve(context.Background(), Input{Files: []string{"a.ts"}, Base: "x", Head: "y"})
	require.ErrorAs(t, err, &scErr)
	assert.Contains(t, err.Error(), "conflicting inputs")

	_, err = res.Resolve(context.Background(), Input{Patch: filepath.Join(t.TempDir(), "missing.diff")})
	assert.ErrorAs(t, err, &scErr)
}
