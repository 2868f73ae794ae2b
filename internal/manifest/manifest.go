// Package manifest reads the workspace package manifest (package.json) and
// maps module references to the packages that provide them.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Manifest is the subset of package.json the integrity checker needs.
type Manifest struct {
	Name                 string            `json:"name"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

// Load reads and parses a package.json file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes package.json content.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Declares reports whether pkg appears in any dependency section.
func (m *Manifest) Declares(pkg string) bool {
	for _, section := range m.sections() {
		if _, ok := section.deps[pkg]; ok {
			return true
		}
	}
	return false
}

// VersionConflict is a package declared in several sections with
// different version ranges.
type VersionConflict struct {
	Package  string
	Versions map[string]string // section -> version
}

// Conflicts returns packages whose declared versions disagree across
// sections, sorted by package name.
func (m *Manifest) Conflicts() []VersionConflict {
	bySection := make(map[string]map[string]string)
	for _, section := range m.sections() {
		for pkg, version := range section.deps {
			if bySection[pkg] == nil {
				bySection[pkg] = make(map[string]string)
			}
			bySection[pkg][section.name] = version
		}
	}

	var conflicts []VersionConflict
	for pkg, versions := range bySection {
		if len(versions) < 2 {
			continue
		}
		distinct := make(map[string]bool)
		for _, v := range versions {
			distinct[v] = true
		}
		if len(distinct) > 1 {
			conflicts = append(conflicts, VersionConflict{Package: pkg, Versions: versions})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Package < conflicts[j].Package })
	return conflicts
}

type section struct {
	name string
	deps map[string]string
}

func (m *Manifest) sections() []section {
	return []section{
		{"dependencies", m.Dependencies},
		{"devDependencies", m.DevDependencies},
		{"peerDependencies", m.PeerDependencies},
		{"optionalDependencies", m.OptionalDependencies},
	}
}

// PackageName returns the package providing a bare module reference:
// "@scope/name/deep" -> "@scope/name", "lodash/fp" -> "lodash".
// It returns "" for references that cannot name a package.
func PackageName(ref string) string {
	if ref == "" || strings.HasPrefix(ref, ".") || strings.HasPrefix(ref, "/") {
		return ""
	}
	parts := strings.Split(ref, "/")
	if strings.HasPrefix(ref, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// IsBuiltin reports whether ref names a Node.js core module.
func IsBuiltin(ref string) bool {
	if strings.HasPrefix(ref, "node:") {
		return true
	}
	return builtins[PackageName(ref)]
}

var builtins = map[string]bool{
	"assert": true, "async_hooks": true, "buffer": true, "child_process": true,
	"cluster": true, "console": true, "constants": true, "crypto": true,
	"dgram": true, "diagnostics_channel": true, "dns": true, "domain": true,
	"events": true, "fs": true, "http": true, "http2": true, "https": true,
	"inspector": true, "module": true, "net": true, "os": true, "path": true,
	"perf_hooks": true, "process": true, "punycode": true, "querystring": true,
	"readline": true, "repl": true, "stream": true, "string_decoder": true,
	"sys": true, "timers": true, "tls": true, "trace_events": true, "tty": true,
	"url": true, "util": true, "v8": true, "vm": true, "wasi": true,
	"worker_threads": true, "zlib": true,
}
