// Package walk enumerates workspace files as lazy, restartable sequences.
package walk

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"

	"kai-ws/internal/ignore"
	"kai-ws/internal/parse"
)

// Files yields the workspace-relative slash paths of all regular files
// under the given workspace-relative directories, in lexical order per
// directory. Ignored files and directories are skipped and directories that
// do not exist yield nothing. Every range over the returned sequence walks
// the filesystem again.
func Files(root string, dirs []string, m *ignore.Matcher) iter.Seq2[string, error] {
	if m == nil {
		m = ignore.Empty()
	}
	return func(yield func(string, error) bool) {
		for _, dir := range dirs {
			if !walkDir(root, dir, m, yield) {
				return
			}
		}
	}
}

// SourceFiles is Files restricted to files the import parser understands.
func SourceFiles(root string, dirs []string, m *ignore.Matcher) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for p, err := range Files(root, dirs, m) {
			if err == nil && parse.LangForPath(p) == "" {
				continue
			}
			if !yield(p, err) {
				return
			}
		}
	}
}

// Collect drains a sequence, stopping at the first error.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for p, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

var errStop = errors.New("stop walk")

func walkDir(root, dir string, m *ignore.Matcher, yield func(string, error) bool) bool {
	start := filepath.Join(root, filepath.FromSlash(dir))
	if _, err := os.Stat(start); err != nil {
		if os.IsNotExist(err) {
			return true
		}
		return yield("", fmt.Errorf("stat %s: %w", dir, err))
	}

	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if !yield("", fmt.Errorf("walking %s: %w", p, err)) {
				return errStop
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != path.Clean(dir) && m.Match(rel, true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || m.Match(rel, false) {
			return nil
		}
		if !yield(rel, nil) {
			return errStop
		}
		return nil
	})

	if errors.Is(err, errStop) {
		return false
	}
	if err != nil {
		return yield("", err)
	}
	return true
}
