// Package lint checks that the workspace description, the files on disk and
// the package manifest agree with each other.
package lint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"kai-ws/internal/graph"
	"kai-ws/internal/ignore"
	"kai-ws/internal/manifest"
	"kai-ws/internal/parse"
	"kai-ws/internal/walk"
	"kai-ws/internal/workspace"
)

// Category identifies a kind of integrity violation.
type Category string

const (
	MissingRoot          Category = "missing-root"
	OrphanFile           Category = "orphan-file"
	OverlappingFile      Category = "overlapping-file"
	UndeclaredDependency Category = "undeclared-dependency"
	Naming               Category = "naming"
	CircularDependency   Category = "circular-dependency"
	ManifestVersion      Category = "manifest-version"
)

// Violation is a single integrity problem.
type Violation struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// ViolationGroup collects the violations of one category under a header.
type ViolationGroup struct {
	Category   Category    `json:"category"`
	Header     string      `json:"header"`
	Violations []Violation `json:"violations"`
}

// Checker runs the integrity checks for one workspace.
type Checker struct {
	ws     *workspace.Workspace
	ignore *ignore.Matcher
	parser *parse.Parser
	log    logrus.FieldLogger
}

// Option configures a Checker.
type Option func(*Checker)

// WithIgnore sets the matcher used to skip files.
func WithIgnore(m *ignore.Matcher) Option {
	return func(c *Checker) {
		c.ignore = m
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Checker) {
		c.log = l
	}
}

// NewChecker creates a checker for ws.
func NewChecker(ws *workspace.Workspace, opts ...Option) *Checker {
	c := &Checker{ws: ws, parser: parse.NewParser()}
	for _, opt := range opts {
		opt(c)
	}
	if c.ignore == nil {
		c.ignore = ignore.New()
	}
	if c.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		c.log = discard
	}
	return c
}

// Run executes every check and returns the non-empty groups in a fixed
// order. Structural problems are reported as violations; an error is only
// returned when the manifest cannot be read or ctx is cancelled.
func (c *Checker) Run(ctx context.Context) ([]ViolationGroup, error) {
	cfg := c.ws.Config
	m, err := manifest.Load(c.ws.Abs(cfg.Manifest))
	if err != nil {
		return nil, &workspace.ConfigError{Path: c.ws.Abs(cfg.Manifest), Err: err}
	}

	files := c.files()

	undeclared, err := c.undeclared(ctx, files, m)
	if err != nil {
		return nil, err
	}
	cycles, err := c.cycles(ctx)
	if err != nil {
		return nil, err
	}

	orphans, overlapping := c.ownership(files)

	all := []ViolationGroup{
		{
			Category:   MissingRoot,
			Header:     "The workspace configuration is out of sync with the filesystem",
			Violations: c.missingRoots(),
		},
		{
			Category:   OrphanFile,
			Header:     fmt.Sprintf("All files in '%s' and '%s' must be part of a project", cfg.AppsDir, cfg.LibsDir),
			Violations: orphans,
		},
		{
			Category:   OverlappingFile,
			Header:     "Every file must belong to exactly one project",
			Violations: overlapping,
		},
		{
			Category:   UndeclaredDependency,
			Header:     fmt.Sprintf("All imported packages must be declared in %s", cfg.Manifest),
			Violations: undeclared,
		},
		{
			Category:   Naming,
			Header:     "Project names must follow the workspace naming convention",
			Violations: c.naming(),
		},
		{
			Category:   CircularDependency,
			Header:     "Projects must not depend on each other circularly",
			Violations: cycles,
		},
		{
			Category:   ManifestVersion,
			Header:     "Packages declared more than once must agree on a version",
			Violations: versionConflicts(m),
		},
	}

	var groups []ViolationGroup
	for _, g := range all {
		if len(g.Violations) > 0 {
			groups = append(groups, g)
		}
	}

	c.log.WithFields(logrus.Fields{"files": len(files), "groups": len(groups)}).Info("integrity check finished")
	return groups, nil
}

// files lists every non-hidden, non-ignored file under the apps and libs
// directories, sorted.
func (c *Checker) files() []string {
	cfg := c.ws.Config
	dirs := []string{cfg.AppsDir}
	if cfg.LibsDir != cfg.AppsDir {
		dirs = append(dirs, cfg.LibsDir)
	}

	var files []string
	for p, err := range walk.Files(c.ws.Root, dirs, c.ignore) {
		if err != nil {
			c.log.WithError(err).Warn("skipping unreadable path")
			continue
		}
		if hidden(p) {
			continue
		}
		files = append(files, p)
	}
	sort.Strings(files)
	return files
}

func hidden(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

func (c *Checker) missingRoots() []Violation {
	var out []Violation
	for _, name := range c.ws.Names() {
		p, _ := c.ws.Project(name)
		info, err := os.Stat(c.ws.Abs(p.Root))
		if err == nil && info.IsDir() {
			continue
		}
		out = append(out, Violation{
			Category: MissingRoot,
			Message:  fmt.Sprintf("Cannot find project '%s' in '%s'", p.Name, p.Root),
		})
	}
	return out
}

func (c *Checker) ownership(files []string) (orphans, overlapping []Violation) {
	for _, f := range files {
		owners := c.ws.Owners(f)
		switch {
		case len(owners) == 0:
			orphans = append(orphans, Violation{
				Category: OrphanFile,
				Message:  fmt.Sprintf("The '%s' file doesn't belong to any project", f),
			})
		case len(owners) > 1:
			names := make([]string, len(owners))
			for i, o := range owners {
				names[i] = o.Name
			}
			sort.Strings(names)
			overlapping = append(overlapping, Violation{
				Category: OverlappingFile,
				Message:  fmt.Sprintf("The '%s' file belongs to multiple projects: %s", f, strings.Join(names, ", ")),
			})
		}
	}
	return orphans, overlapping
}

// undeclared reports each external package imported somewhere but missing
// from the manifest, naming the first importer in lexical order.
func (c *Checker) undeclared(ctx context.Context, files []string, m *manifest.Manifest) ([]Violation, error) {
	resolver := graph.NewResolver(c.ws)
	firstImporter := make(map[string]string)

	for _, f := range files {
		lang := parse.LangForPath(f)
		if lang == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(c.ws.Abs(f))
		if err != nil {
			c.log.WithError(err).WithField("file", f).Warn("skipping unreadable file")
			continue
		}
		refs, err := c.parser.Imports(ctx, content, lang)
		if err != nil {
			c.log.WithError(err).WithField("file", f).Warn("skipping unparseable file")
			continue
		}
		for _, ref := range refs {
			if parse.IsRelative(ref) || resolver.IsWorkspaceRef(ref) || manifest.IsBuiltin(ref) {
				continue
			}
			pkg := manifest.PackageName(ref)
			if pkg == "" || m.Declares(pkg) {
				continue
			}
			if _, seen := firstImporter[pkg]; !seen {
				firstImporter[pkg] = f
			}
		}
	}

	pkgs := make([]string, 0, len(firstImporter))
	for pkg := range firstImporter {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	var out []Violation
	for _, pkg := range pkgs {
		out = append(out, Violation{
			Category: UndeclaredDependency,
			Message: fmt.Sprintf("Package '%s' imported by '%s' is not declared in %s",
				pkg, firstImporter[pkg], c.ws.Config.Manifest),
		})
	}
	return out, nil
}

// naming checks that apps live under the apps directory, libs under the
// libs directory, and that a project's name is its root relative to that
// directory with "/" replaced by "-".
func (c *Checker) naming() []Violation {
	cfg := c.ws.Config
	var out []Violation
	for _, name := range c.ws.Names() {
		p, _ := c.ws.Project(name)

		dir, label := cfg.LibsDir, "Library"
		if p.Kind == workspace.KindApp {
			dir, label = cfg.AppsDir, "App"
		}

		if !workspace.Contains(dir, p.Root) || p.Root == dir {
			out = append(out, Violation{
				Category: Naming,
				Message:  fmt.Sprintf("%s '%s' must be located under '%s' (found at '%s')", label, p.Name, dir, p.Root),
			})
			continue
		}

		expected := strings.ReplaceAll(strings.TrimPrefix(p.Root, dir+"/"), "/", "-")
		if p.Name != expected {
			out = append(out, Violation{
				Category: Naming,
				Message:  fmt.Sprintf("Project '%s' at '%s' should be named '%s'", p.Name, p.Root, expected),
			})
		}
	}
	return out
}

// cycles builds the project graph and reports every dependency cycle.
// Overlapping roots make the graph undefined; they surface as overlapping
// files instead.
func (c *Checker) cycles(ctx context.Context) ([]Violation, error) {
	g, err := graph.NewBuilder(c.ws, graph.WithIgnore(c.ignore), graph.WithLogger(c.log)).Build(ctx)
	if err != nil {
		var rerr *graph.ResolutionError
		if errors.As(err, &rerr) {
			c.log.WithError(err).Warn("skipping cycle detection")
			return nil, nil
		}
		return nil, err
	}

	var out []Violation
	for _, cycle := range g.Cycles() {
		out = append(out, Violation{
			Category: CircularDependency,
			Message:  "Circular dependency between: " + strings.Join(cycle, ", "),
		})
	}
	return out, nil
}

func versionConflicts(m *manifest.Manifest) []Violation {
	var out []Violation
	for _, conflict := range m.Conflicts() {
		sections := make([]string, 0, len(conflict.Versions))
		for section := range conflict.Versions {
			sections = append(sections, section)
		}
		sort.Strings(sections)

		parts := make([]string, len(sections))
		for i, section := range sections {
			parts[i] = section + "=" + conflict.Versions[section]
		}
		out = append(out, Violation{
			Category: ManifestVersion,
			Message:  fmt.Sprintf("Package '%s' has conflicting versions: %s", conflict.Package, strings.Join(parts, ", ")),
		})
	}
	return out
}
