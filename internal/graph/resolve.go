package graph

import (
	"path"
	"sort"
	"strings"

	"kai-ws/internal/parse"
	"kai-ws/internal/workspace"
)

// Resolver maps module references found in a source file to the workspace
// project they point at.
type Resolver struct {
	ws      *workspace.Workspace
	scope   string
	aliases []alias
}

type alias struct {
	prefix string
	target string
}

// NewResolver creates a resolver for the workspace's naming convention and
// alias table.
func NewResolver(ws *workspace.Workspace) *Resolver {
	r := &Resolver{ws: ws}
	if ws.Config.NpmScope != "" {
		r.scope = "@" + strings.TrimPrefix(ws.Config.NpmScope, "@") + "/"
	}
	for prefix, target := range ws.Config.Aliases {
		r.aliases = append(r.aliases, alias{prefix: strings.TrimSuffix(prefix, "/"), target: target})
	}
	// Longest prefix wins.
	sort.Slice(r.aliases, func(i, j int) bool {
		if len(r.aliases[i].prefix) != len(r.aliases[j].prefix) {
			return len(r.aliases[i].prefix) > len(r.aliases[j].prefix)
		}
		return r.aliases[i].prefix < r.aliases[j].prefix
	})
	return r
}

// Resolve returns the project a reference made from fromFile points at.
// References that leave the workspace or match nothing are external and
// resolve to false.
func (r *Resolver) Resolve(fromFile, ref string) (string, bool) {
	if parse.IsRelative(ref) {
		target := path.Join(path.Dir(fromFile), ref)
		if target == ".." || strings.HasPrefix(target, "../") {
			return "", false
		}
		return r.owner(target)
	}

	if a, rest, ok := r.matchAlias(ref); ok {
		return r.owner(path.Join(a.target, rest))
	}

	if r.scope != "" && strings.HasPrefix(ref, r.scope) {
		rest := strings.TrimPrefix(ref, r.scope)
		if rest == "" {
			return "", false
		}
		if name, ok := r.owner(path.Join(r.ws.Config.LibsDir, rest)); ok {
			return name, true
		}
		first, _, _ := strings.Cut(rest, "/")
		if p, ok := r.ws.Project(first); ok {
			return p.Name, true
		}
	}

	return "", false
}

// IsWorkspaceRef reports whether ref uses the workspace scope or an alias,
// whether or not it resolves to a declared project.
func (r *Resolver) IsWorkspaceRef(ref string) bool {
	if _, _, ok := r.matchAlias(ref); ok {
		return true
	}
	return r.scope != "" && strings.HasPrefix(ref, r.scope)
}

func (r *Resolver) matchAlias(ref string) (alias, string, bool) {
	for _, a := range r.aliases {
		if ref == a.prefix {
			return a, "", true
		}
		if strings.HasPrefix(ref, a.prefix+"/") {
			return a, strings.TrimPrefix(ref, a.prefix+"/"), true
		}
	}
	return alias{}, "", false
}

func (r *Resolver) owner(p string) (string, bool) {
	proj, ok := r.ws.Owner(p)
	if !ok {
		return "", false
	}
	return proj.Name, true
}
