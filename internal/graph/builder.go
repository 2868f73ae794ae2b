package graph

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"kai-ws/internal/ignore"
	"kai-ws/internal/parse"
	"kai-ws/internal/walk"
	"kai-ws/internal/workspace"
)

// Builder scans project sources and derives dependency edges from imports.
type Builder struct {
	ws       *workspace.Workspace
	ignore   *ignore.Matcher
	parser   *parse.Parser
	resolver *Resolver
	log      logrus.FieldLogger
}

// Option configures a Builder.
type Option func(*Builder)

// WithIgnore sets the matcher used to skip files while scanning.
func WithIgnore(m *ignore.Matcher) Option {
	return func(b *Builder) {
		b.ignore = m
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

// NewBuilder creates a builder for ws. Without WithIgnore only the default
// ignore patterns apply.
func NewBuilder(ws *workspace.Workspace, opts ...Option) *Builder {
	b := &Builder{
		ws:       ws,
		parser:   parse.NewParser(),
		resolver: NewResolver(ws),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.ignore == nil {
		b.ignore = ignore.New()
	}
	if b.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		b.log = discard
	}
	return b
}

// Build constructs the graph from the current filesystem contents.
// Unreadable or unparseable files are logged and treated as having no
// imports; only overlapping project roots fail the build.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	projects := b.ws.Projects()
	if err := CheckRoots(projects); err != nil {
		return nil, err
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })

	g := newGraph(projects)
	files := 0
	for _, p := range projects {
		for file, err := range walk.SourceFiles(b.ws.Root, []string{p.Root}, b.ignore) {
			if err != nil {
				b.log.WithError(err).WithField("project", p.Name).Warn("skipping unreadable path")
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			files++
			b.scanFile(ctx, g, p, file)
		}
	}

	b.log.WithFields(logrus.Fields{
		"projects": g.Len(),
		"files":    files,
		"edges":    len(g.Edges()),
	}).Info("project graph built")

	return g, nil
}

func (b *Builder) scanFile(ctx context.Context, g *Graph, owner workspace.Project, file string) {
	log := b.log.WithFields(logrus.Fields{"project": owner.Name, "file": file})

	content, err := os.ReadFile(b.ws.Abs(file))
	if err != nil {
		log.WithError(err).Warn("skipping unreadable file")
		return
	}

	refs, err := b.parser.Imports(ctx, content, parse.LangForPath(file))
	if err != nil {
		log.WithError(err).Warn("skipping unparseable file")
		return
	}

	for _, ref := range refs {
		target, ok := b.resolver.Resolve(file, ref)
		if !ok || target == owner.Name {
			continue
		}
		if g.addEdge(owner.Name, target) {
			log.WithFields(logrus.Fields{"ref": ref, "dependency": target}).Debug("edge added")
		}
	}
}

// CheckRoots returns a ResolutionError when two project roots are equal or
// one contains the other.
func CheckRoots(projects []workspace.Project) error {
	var overlaps []Overlap
	for i := range projects {
		for j := range projects {
			if i == j {
				continue
			}
			a, b := projects[i], projects[j]
			if !workspace.Contains(a.Root, b.Root) {
				continue
			}
			// Report identical roots once.
			if a.Root == b.Root && a.Name > b.Name {
				continue
			}
			overlaps = append(overlaps, Overlap{
				Outer: a.Name, OuterRoot: a.Root,
				Inner: b.Name, InnerRoot: b.Root,
			})
		}
	}
	if len(overlaps) == 0 {
		return nil
	}
	sort.Slice(overlaps, func(i, j int) bool {
		if overlaps[i].Outer != overlaps[j].Outer {
			return overlaps[i].Outer < overlaps[j].Outer
		}
		return overlaps[i].Inner < overlaps[j].Inner
	})
	return &ResolutionError{Overlaps: overlaps}
}
