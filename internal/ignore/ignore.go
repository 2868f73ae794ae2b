// Package ignore decides which workspace paths are skipped while scanning
// sources, using gitignore-style patterns.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFile is read from the workspace root in addition to .gitignore.
const IgnoreFile = ".kaiwsignore"

// defaultPatterns are skipped in every workspace.
var defaultPatterns = []string{
	".git/",
	".hg/",
	".svn/",
	".kai/",
	"node_modules/",
	"dist/",
	"tmp/",
	"out-tsc/",
	"coverage/",
	".angular/",
	".nx/",
	".cache/",
	".DS_Store",
	"Thumbs.db",
	"*.swp",
	"*.log",
}

type pattern struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher holds compiled patterns. Later patterns override earlier ones.
type Matcher struct {
	patterns []pattern
}

// New returns a matcher preloaded with the default patterns.
func New() *Matcher {
	m := &Matcher{}
	m.Add(defaultPatterns...)
	return m
}

// Empty returns a matcher that ignores nothing.
func Empty() *Matcher {
	return &Matcher{}
}

// Load returns the default matcher extended with the workspace's
// .gitignore and .kaiwsignore files.
func Load(root string) (*Matcher, error) {
	m := New()
	for _, name := range []string{".gitignore", IgnoreFile} {
		if err := m.LoadFile(filepath.Join(root, name)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add compiles gitignore lines. Blank lines and comments are skipped.
func (m *Matcher) Add(lines ...string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var p pattern
		if strings.HasPrefix(line, "!") {
			p.negated = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			p.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			p.anchored = true
			line = line[1:]
		}
		// Unanchored patterns without a slash match at any depth.
		if !p.anchored && !strings.Contains(line, "/") {
			line = "**/" + line
		}
		p.glob = line
		m.patterns = append(m.patterns, p)
	}
}

// LoadFile adds the patterns of a gitignore-style file. A missing file is
// not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	m.Add(lines...)
	return nil
}

// Match reports whether a workspace-relative slash path is ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	ignored := false
	for _, p := range m.patterns {
		var matched bool
		if p.dirOnly && !isDir {
			matched = matchParentDir(p.glob, path)
		} else {
			matched = matchGlob(p.glob, path)
		}
		if matched {
			ignored = !p.negated
		}
	}
	return ignored
}

// matchParentDir reports whether any parent directory of path matches glob.
func matchParentDir(glob, path string) bool {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, path string) bool {
	if ok, _ := doublestar.Match(glob, path); ok {
		return true
	}
	if !strings.HasSuffix(glob, "/**") {
		ok, _ := doublestar.Match(glob+"/**", path)
		return ok
	}
	return false
}
