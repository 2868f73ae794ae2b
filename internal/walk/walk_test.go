package walk

import (
	"os"
	"path/filepath"
	"testing"

	"kai-ws/internal/ignore"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, rel := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"apps/web/src/main.ts",
		"apps/web/src/app.component.html",
		"apps/web/node_modules/pkg/index.js",
		"apps/web/dist/main.js",
		"libs/core/index.ts",
		"libs/core/debug.log",
		"tools/script.js",
	)

	got, err := Collect(Files(root, []string{"apps", "libs", "missing"}, ignore.New()))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{
		"apps/web/src/app.component.html",
		"apps/web/src/main.ts",
		"libs/core/index.ts",
	}
	if !equal(got, want) {
		t.Errorf("Files = %v, want %v", got, want)
	}
}

func TestFiles_Restartable(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "libs/a.ts", "libs/b.ts")

	seq := Files(root, []string{"libs"}, nil)
	first, err := Collect(seq)
	if err != nil {
		t.Fatal(err)
	}

	writeTree(t, root, "libs/c.ts")
	second, err := Collect(seq)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != 2 || len(second) != 3 {
		t.Errorf("first = %v, second = %v", first, second)
	}
}

func TestFiles_EarlyStop(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "libs/a.ts", "libs/b.ts", "libs/c.ts")

	var seen []string
	for p, err := range Files(root, []string{"libs"}, nil) {
		if err != nil {
			t.Fatal(err)
		}
		seen = append(seen, p)
		if len(seen) == 2 {
			break
		}
	}
	if !equal(seen, []string{"libs/a.ts", "libs/b.ts"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestSourceFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"libs/core/index.ts",
		"libs/core/view.tsx",
		"libs/core/legacy.js",
		"libs/core/README.md",
		"libs/core/styles.css",
	)

	got, err := Collect(SourceFiles(root, []string{"libs"}, nil))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"libs/core/index.ts", "libs/core/legacy.js", "libs/core/view.tsx"}
	if !equal(got, want) {
		t.Errorf("SourceFiles = %v, want %v", got, want)
	}
}
