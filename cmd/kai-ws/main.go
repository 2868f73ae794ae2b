// Package main provides the kai-ws CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kai-ws/internal/changeset"
	"kai-ws/internal/ignore"
	"kai-ws/internal/status"
	"kai-ws/internal/workspace"
)

// Version is the current kai-ws version
var Version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	var reported *reportedError
	if err != nil && !errors.As(err, &reported) {
		// Usage errors never reach a command.
		status.NewPrinter(stderr, true).Error(err, "")
	}
	return exitCodeFor(err)
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	workspace string
	config    string
	logLevel  string
	noColor   bool
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "kai-ws",
		Short: "kai-ws - project graph and affected-project tool for monorepo workspaces",
		Long: `kai-ws reads a workspace of applications and libraries, derives the
project dependency graph from source imports, and answers which projects
are affected by a change.

Examples:
  kai-ws affected apps --base=main --head=HEAD
  kai-ws affected build --files=libs/core/src/index.ts --parallel
  kai-ws dep-graph --file=graph.dot
  kai-ws lint`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.workspace, "workspace", "w", ".", "Workspace root directory")
	pf.StringVar(&g.config, "config", workspace.ConfigFile, "Workspace description file, relative to the workspace root")
	pf.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	commands := []*cobra.Command{
		newAffectedCmd(g),
		newDepGraphCmd(g),
		newLintCmd(g),
	}
	for _, c := range commands {
		root.AddCommand(c)
	}
	return root
}

// env is the per-invocation state built from the global options.
type env struct {
	ws     *workspace.Workspace
	ignore *ignore.Matcher
	log    *logrus.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	out    *status.Printer
	errOut *status.Printer
}

func (g *globalOptions) newLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(g.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: g.noColor,
		FullTimestamp: true,
	})
	return log, nil
}

func (g *globalOptions) setup(cmd *cobra.Command, allowMissingRoots bool) (*env, error) {
	e := &env{
		stdin:  cmd.InOrStdin(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}
	e.out = status.NewPrinter(e.stdout, g.noColor)
	e.errOut = status.NewPrinter(e.stderr, g.noColor)

	log, err := g.newLogger(e.stderr)
	if err != nil {
		return e, err
	}
	e.log = log

	ws, err := workspace.Load(g.workspace, workspace.LoadOptions{
		ConfigName:        g.config,
		AllowMissingRoots: allowMissingRoots,
	})
	if err != nil {
		return e, err
	}
	e.ws = ws

	m, err := ignore.Load(ws.Root)
	if err != nil {
		return e, fmt.Errorf("loading ignore patterns: %w", err)
	}
	e.ignore = m

	log.WithFields(logrus.Fields{
		"workspace": ws.Root,
		"projects":  len(ws.Projects()),
	}).Debug("workspace loaded")
	return e, nil
}

// runner adapts a command body to cobra's RunE, loading the workspace first
// and printing any error before it is returned.
func (g *globalOptions) runner(allowMissingRoots bool, fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := g.setup(cmd, allowMissingRoots)
		if err == nil {
			err = fn(cmd, e, args)
		}
		if err == nil {
			return nil
		}
		printError(e.errOut, err)
		return &reportedError{err: err}
	}
}

func printError(p *status.Printer, err error) {
	var exit *exitError
	if errors.As(err, &exit) && exit.silent {
		return
	}
	var scErr *changeset.SourceControlError
	if errors.As(err, &scErr) {
		p.Error(err, scErr.Guidance())
		return
	}
	p.Error(err, "")
}

// exitError carries a specific exit code. Silent errors have already been
// presented to the user.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

type reportedError struct {
	err error
}

func (e *reportedError) Error() string {
	return e.err.Error()
}

func (e *reportedError) Unwrap() error {
	return e.err
}

// exitCodeFor maps an error returned by a command to a process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}
