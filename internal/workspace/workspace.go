// Package workspace loads the declared projects of a monorepo workspace.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the default name of the workspace description.
const ConfigFile = "kai.workspace.yaml"

// Kind is the type of a project.
type Kind string

const (
	KindApp Kind = "app"
	KindLib Kind = "lib"
)

// Project is a named application or library with a unique root directory.
type Project struct {
	Name string   `yaml:"name" json:"name" validate:"required"`
	Kind Kind     `yaml:"kind" json:"kind" validate:"required,oneof=app lib"`
	Root string   `yaml:"root" json:"root" validate:"required"`
	Tags []string `yaml:"tags,omitempty" json:"tags"`
}

// Runner describes the external tool invoked per project.
type Runner struct {
	Command     []string `yaml:"command"`
	ProjectFlag string   `yaml:"projectFlag"`
}

// Config mirrors kai.workspace.yaml.
type Config struct {
	NpmScope      string            `yaml:"npmScope"`
	AppsDir       string            `yaml:"appsDir"`
	LibsDir       string            `yaml:"libsDir"`
	Manifest      string            `yaml:"manifest"`
	ImplicitFiles []string          `yaml:"implicitFiles"`
	Aliases       map[string]string `yaml:"aliases"`
	Runner        Runner            `yaml:"runner"`
	Projects      []Project         `yaml:"projects" validate:"dive"`
}

// Workspace is a loaded, validated workspace description.
type Workspace struct {
	Root   string
	Config Config

	projects []Project
	byName   map[string]int
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ConfigName overrides ConfigFile.
	ConfigName string
	// AllowMissingRoots accepts projects whose root directory does not exist.
	AllowMissingRoots bool
}

var validate = validator.New()

// Load reads and validates the workspace description found in root.
func Load(root string, opts LoadOptions) (*Workspace, error) {
	name := opts.ConfigName
	if name == "" {
		name = ConfigFile
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ConfigError{Path: root, Err: fmt.Errorf("getting absolute path: %w", err)}
	}

	configPath := filepath.Join(absRoot, name)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Path: configPath, Err: errors.New("workspace description not found")}
		}
		return nil, &ConfigError{Path: configPath, Err: fmt.Errorf("reading workspace description: %w", err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: configPath, Err: fmt.Errorf("parsing workspace description: %w", err)}
	}

	ws, err := New(absRoot, cfg)
	if err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Path = configPath
		}
		return nil, err
	}

	if !opts.AllowMissingRoots {
		for _, p := range ws.projects {
			info, err := os.Stat(ws.Abs(p.Root))
			if err != nil || !info.IsDir() {
				return nil, &ConfigError{
					Path: configPath,
					Err:  fmt.Errorf("project %q: root directory %q does not exist", p.Name, p.Root),
				}
			}
		}
	}

	return ws, nil
}

// New builds a workspace from an in-memory configuration. Defaults are
// applied and roots normalized; the filesystem is not consulted.
func New(root string, cfg Config) (*Workspace, error) {
	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("invalid workspace description: %w", err)}
	}

	for _, pattern := range cfg.ImplicitFiles {
		if !doublestar.ValidatePattern(pattern) {
			return nil, &ConfigError{Err: fmt.Errorf("invalid implicitFiles pattern %q", pattern)}
		}
	}

	aliases := make(map[string]string, len(cfg.Aliases))
	for alias, target := range cfg.Aliases {
		clean, err := CleanPath(target)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("alias %q: %w", alias, err)}
		}
		aliases[alias] = clean
	}
	cfg.Aliases = aliases

	ws := &Workspace{
		Root:   root,
		Config: cfg,
		byName: make(map[string]int, len(cfg.Projects)),
	}

	for _, p := range cfg.Projects {
		if _, dup := ws.byName[p.Name]; dup {
			return nil, &ConfigError{Err: fmt.Errorf("duplicate project name %q", p.Name)}
		}
		clean, err := CleanPath(p.Root)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("project %q: %w", p.Name, err)}
		}
		p.Root = clean
		p.Tags = sortedCopy(p.Tags)
		ws.byName[p.Name] = len(ws.projects)
		ws.projects = append(ws.projects, p)
	}
	ws.Config.Projects = ws.Projects()

	return ws, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AppsDir == "" {
		cfg.AppsDir = "apps"
	}
	if cfg.LibsDir == "" {
		cfg.LibsDir = "libs"
	}
	if cfg.Manifest == "" {
		cfg.Manifest = "package.json"
	}
	if len(cfg.Runner.Command) == 0 {
		cfg.Runner.Command = []string{"ng"}
	}
	if cfg.Runner.ProjectFlag == "" {
		cfg.Runner.ProjectFlag = "-a"
	}
	cfg.AppsDir = strings.Trim(filepath.ToSlash(cfg.AppsDir), "/")
	cfg.LibsDir = strings.Trim(filepath.ToSlash(cfg.LibsDir), "/")
}

// CleanPath normalizes a workspace-relative path to a clean slash path.
// Absolute paths, paths escaping the workspace and the workspace root
// itself are rejected.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	slashed := filepath.ToSlash(p)
	if path.IsAbs(slashed) || filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative to the workspace root", p)
	}
	clean := path.Clean(slashed)
	if clean == "." {
		return "", fmt.Errorf("path %q must not be the workspace root", p)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the workspace", p)
	}
	return clean, nil
}

// Projects returns the declared projects in declaration order.
func (w *Workspace) Projects() []Project {
	out := make([]Project, len(w.projects))
	copy(out, w.projects)
	return out
}

// Project returns a project by name.
func (w *Workspace) Project(name string) (Project, bool) {
	i, ok := w.byName[name]
	if !ok {
		return Project{}, false
	}
	return w.projects[i], true
}

// Names returns all project names sorted alphabetically.
func (w *Workspace) Names() []string {
	names := make([]string, 0, len(w.projects))
	for _, p := range w.projects {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Apps returns the names of all applications, sorted.
func (w *Workspace) Apps() []string {
	return w.namesOfKind(KindApp)
}

// Libs returns the names of all libraries, sorted.
func (w *Workspace) Libs() []string {
	return w.namesOfKind(KindLib)
}

func (w *Workspace) namesOfKind(kind Kind) []string {
	var names []string
	for _, p := range w.projects {
		if p.Kind == kind {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Abs returns the absolute filesystem path of a workspace-relative path.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Owner returns the project whose root is the longest prefix of p.
func (w *Workspace) Owner(p string) (Project, bool) {
	owners := w.Owners(p)
	if len(owners) == 0 {
		return Project{}, false
	}
	return owners[0], true
}

// Owners returns every project whose root contains p, longest root first.
// Ties are broken by name.
func (w *Workspace) Owners(p string) []Project {
	var owners []Project
	for _, proj := range w.projects {
		if Contains(proj.Root, p) {
			owners = append(owners, proj)
		}
	}
	sort.Slice(owners, func(i, j int) bool {
		if len(owners[i].Root) != len(owners[j].Root) {
			return len(owners[i].Root) > len(owners[j].Root)
		}
		return owners[i].Name < owners[j].Name
	})
	return owners
}

// IsImplicitFile reports whether p matches one of the configured
// implicitFiles globs.
func (w *Workspace) IsImplicitFile(p string) bool {
	for _, pattern := range w.Config.ImplicitFiles {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Contains reports whether p is root or lies beneath it.
func Contains(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
