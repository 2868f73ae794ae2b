// Package changeset turns invocation input (an explicit file list, a
// revision range or a unified diff) into a normalized list of changed
// workspace paths.
package changeset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/go-diff/diff"

	"kai-ws/internal/workspace"
)

// ChangeSet is an ordered, deduplicated list of workspace-relative slash
// paths.
type ChangeSet []string

// Input selects exactly one way of obtaining changed files.
type Input struct {
	// Files are explicit paths; entries may be comma-separated lists.
	Files []string
	// Base and Head form a revision range.
	Base, Head string
	// Patch is a unified diff file, "-" for stdin.
	Patch string
}

func (in Input) modes() []string {
	var modes []string
	if len(in.Files) > 0 {
		modes = append(modes, "files")
	}
	if in.Base != "" || in.Head != "" {
		modes = append(modes, "revision range")
	}
	if in.Patch != "" {
		modes = append(modes, "patch")
	}
	return modes
}

// Resolver produces change sets for one workspace.
type Resolver struct {
	root     string
	repoPath string
	stdin    io.Reader
	log      logrus.FieldLogger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRepository sets the repository location when it differs from the
// workspace root. The repository is discovered upward from this path.
func WithRepository(p string) Option {
	return func(r *Resolver) {
		r.repoPath = p
	}
}

// WithStdin sets the reader used for Patch "-".
func WithStdin(in io.Reader) Option {
	return func(r *Resolver) {
		r.stdin = in
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resolver) {
		r.log = l
	}
}

// NewResolver creates a resolver for the workspace rooted at root.
func NewResolver(root string, opts ...Option) *Resolver {
	r := &Resolver{root: root, repoPath: root, stdin: os.Stdin}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		r.log = discard
	}
	return r
}

// Resolve dispatches on the single input mode that was supplied.
func (r *Resolver) Resolve(ctx context.Context, in Input) (ChangeSet, error) {
	modes := in.modes()
	switch {
	case len(modes) == 0:
		return nil, &SourceControlError{Err: errors.New("no changes supplied")}
	case len(modes) > 1:
		return nil, &SourceControlError{Err: fmt.Errorf("conflicting inputs: %s", strings.Join(modes, ", "))}
	}

	var (
		cs  ChangeSet
		err error
	)
	switch modes[0] {
	case "files":
		cs, err = FromFiles(in.Files)
	case "revision range":
		cs, err = r.FromRevisions(ctx, in.Base, in.Head)
	case "patch":
		cs, err = r.fromPatchInput(in.Patch)
	}
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{"mode": modes[0], "files": len(cs)}).Info("change set resolved")
	return cs, nil
}

// FromFiles validates an explicit file list. Paths are checked for
// well-formedness only; deleted files are valid entries.
func FromFiles(entries []string) (ChangeSet, error) {
	var paths []string
	for _, entry := range entries {
		for _, p := range strings.Split(entry, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if strings.ContainsRune(p, 0) {
				return nil, &SourceControlError{Err: fmt.Errorf("invalid file path %q", p)}
			}
			clean, err := workspace.CleanPath(p)
			if err != nil {
				return nil, &SourceControlError{Err: fmt.Errorf("invalid file path: %w", err)}
			}
			paths = append(paths, clean)
		}
	}
	return dedupe(paths), nil
}

// FromRevisions lists the paths that differ between two revisions. Both
// sides of renames are included. When the workspace is a subdirectory of
// the repository, paths are made workspace-relative and paths outside the
// workspace are dropped.
func (r *Resolver) FromRevisions(ctx context.Context, base, head string) (ChangeSet, error) {
	if base == "" || head == "" {
		return nil, &SourceControlError{Err: errors.New("a revision range needs both a base and a head revision")}
	}

	repo, err := git.PlainOpenWithOptions(r.repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("opening repository: %w", err)}
	}

	prefix, err := r.workspacePrefix(repo)
	if err != nil {
		return nil, &SourceControlError{Err: err}
	}

	baseTree, err := resolveTree(repo, base)
	if err != nil {
		return nil, err
	}
	headTree, err := resolveTree(repo, head)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("computing diff %s..%s: %w", base, head, err)}
	}

	var paths []string
	for _, change := range changes {
		for _, name := range []string{change.From.Name, change.To.Name} {
			if name == "" {
				continue
			}
			if rel, ok := relativeTo(prefix, name); ok {
				paths = append(paths, rel)
			}
		}
	}

	r.log.WithFields(logrus.Fields{"base": base, "head": head, "changes": len(changes)}).Debug("diffed revisions")
	return dedupe(paths), nil
}

func resolveTree(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("resolving revision %q: %w", rev, err)}
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("revision %q is not a commit: %w", rev, err)}
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("reading tree of %q: %w", rev, err)}
	}
	return tree, nil
}

// workspacePrefix returns the workspace root relative to the repository
// root as a slash path, "" when they coincide.
func (r *Resolver) workspacePrefix(repo *git.Repository) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree; paths are used as they are.
		return "", nil
	}
	repoRoot, err := canonical(wt.Filesystem.Root())
	if err != nil {
		return "", err
	}
	wsRoot, err := canonical(r.root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(repoRoot, wsRoot)
	if err != nil {
		return "", fmt.Errorf("workspace %s is not inside repository %s: %w", wsRoot, repoRoot, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("workspace %s is not inside repository %s", wsRoot, repoRoot)
	}
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func relativeTo(prefix, name string) (string, bool) {
	name = path.Clean(name)
	if prefix == "" {
		return name, true
	}
	if !workspace.Contains(prefix, name) || name == prefix {
		return "", false
	}
	return strings.TrimPrefix(name, prefix+"/"), true
}

func (r *Resolver) fromPatchInput(src string) (ChangeSet, error) {
	var in io.Reader = r.stdin
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return nil, &SourceControlError{Err: fmt.Errorf("opening patch: %w", err)}
		}
		defer f.Close()
		in = f
	}
	cs, err := FromPatch(in)
	if err != nil {
		return nil, err
	}
	return r.relativePatch(cs)
}

// relativePatch rebases patch paths onto the workspace. git diff names
// files relative to the repository root, so when the workspace is a
// subdirectory the prefix is stripped and paths outside it are dropped.
// Without a repository the paths are used as they are.
func (r *Resolver) relativePatch(cs ChangeSet) (ChangeSet, error) {
	repo, err := git.PlainOpenWithOptions(r.repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		r.log.WithError(err).Debug("no repository; patch paths taken as workspace-relative")
		return cs, nil
	}
	prefix, err := r.workspacePrefix(repo)
	if err != nil {
		return nil, &SourceControlError{Err: err}
	}
	if prefix == "" {
		return cs, nil
	}

	paths := make([]string, 0, len(cs))
	for _, name := range cs {
		if rel, ok := relativeTo(prefix, name); ok {
			paths = append(paths, rel)
		}
	}
	r.log.WithFields(logrus.Fields{"prefix": prefix, "dropped": len(cs) - len(paths)}).Debug("rebased patch paths")
	return dedupe(paths), nil
}

// FromPatch lists the files touched by a unified diff, such as the output
// of `git diff`. The a/ and b/ prefixes are stripped; /dev/null is skipped.
func FromPatch(in io.Reader) (ChangeSet, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("reading patch: %w", err)}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return ChangeSet{}, nil
	}

	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, &SourceControlError{Err: fmt.Errorf("parsing patch: %w", err)}
	}

	var paths []string
	for _, fd := range fileDiffs {
		for _, name := range []string{fd.OrigName, fd.NewName} {
			if p := patchPath(name); p != "" {
				paths = append(paths, p)
			}
		}
	}
	return dedupe(paths), nil
}

func patchPath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	clean, err := workspace.CleanPath(name)
	if err != nil {
		return ""
	}
	return clean
}

func dedupe(paths []string) ChangeSet {
	seen := make(map[string]bool, len(paths))
	out := make(ChangeSet, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
