package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kai-ws/internal/affected"
	"kai-ws/internal/changeset"
	"kai-ws/internal/export"
	"kai-ws/internal/graph"
	"kai-ws/internal/orchestrate"
)

// changeOptions select the changed files of an affected command.
type changeOptions struct {
	base  string
	head  string
	files []string
	patch string
	repo  string
}

func (o *changeOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.base, "base", "", "Base revision of the change range")
	f.StringVar(&o.head, "head", "", "Head revision of the change range")
	f.StringArrayVar(&o.files, "files", nil, "Changed files, comma separated (repeatable)")
	f.StringVar(&o.patch, "patch", "", "Unified diff listing the changes (- for stdin)")
	f.StringVar(&o.repo, "repo", "", "Repository location (default: the workspace)")
}

// input combines flags with up to two positional revisions.
func (o *changeOptions) input(revisions []string) (changeset.Input, error) {
	in := changeset.Input{Files: o.files, Base: o.base, Head: o.head, Patch: o.patch}
	if len(revisions) == 2 {
		if o.base != "" || o.head != "" {
			return in, &changeset.SourceControlError{
				Err: errors.New("conflicting inputs: --base/--head and positional revisions"),
			}
		}
		in.Base, in.Head = revisions[0], revisions[1]
	}
	return in, nil
}

// revisionArgs accepts either no positional revisions or a base and a head.
// Arguments after "--" are passed through and not counted.
func revisionArgs(cmd *cobra.Command, args []string) error {
	n := len(args)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		n = dash
	}
	if n != 0 && n != 2 {
		return fmt.Errorf("expected two revisions (base and head), got %d argument(s)", n)
	}
	return nil
}

func splitAtDash(cmd *cobra.Command, args []string) (revisions, passthrough []string) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		return args[:dash], args[dash:]
	}
	return args, nil
}

// compute resolves the change set, builds the graph and computes the
// affected projects.
func (e *env) compute(ctx context.Context, opts *changeOptions, revisions []string) (affected.Result, *graph.Graph, error) {
	in, err := opts.input(revisions)
	if err != nil {
		return affected.Result{}, nil, err
	}

	resolverOpts := []changeset.Option{
		changeset.WithStdin(e.stdin),
		changeset.WithLogger(e.log),
	}
	if opts.repo != "" {
		resolverOpts = append(resolverOpts, changeset.WithRepository(opts.repo))
	}
	changes, err := changeset.NewResolver(e.ws.Root, resolverOpts...).Resolve(ctx, in)
	if err != nil {
		return affected.Result{}, nil, err
	}

	g, err := graph.NewBuilder(e.ws, graph.WithIgnore(e.ignore), graph.WithLogger(e.log)).Build(ctx)
	if err != nil {
		return affected.Result{}, nil, err
	}

	res := affected.Compute(g, e.ws, changes)
	e.log.WithField("touched", res.Touched).WithField("affected", res.Projects).Info("affected projects computed")
	return res, g, nil
}

func newAffectedCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "affected",
		Short: "Commands over the projects affected by a change",
		Long: `Computes the projects affected by a change: the projects containing a
changed file plus every project that transitively depends on them.

Changes are given as a revision range, a file list or a unified diff:
  kai-ws affected apps --base=main --head=HEAD
  kai-ws affected apps main HEAD
  kai-ws affected apps --files=libs/core/src/index.ts,libs/utils/src/format.ts
  git diff main | kai-ws affected apps --patch=-`,
	}

	listings := []struct {
		use, short string
		pick       func(affected.Result) []string
	}{
		{"apps", "Print the affected applications", affected.Result.Apps},
		{"libs", "Print the affected libraries", affected.Result.Libs},
		{"projects", "Print every affected project", func(r affected.Result) []string { return r.Projects }},
	}
	for _, l := range listings {
		cmd.AddCommand(newAffectedListCmd(g, l.use, l.short, l.pick))
	}

	targets := []struct {
		target, short, verb, empty string
		apps                       bool
	}{
		{"build", "Build the affected applications", "Building", "No apps to build", true},
		{"e2e", "Run end-to-end tests of the affected applications", "Running e2e tests for", "No apps to run e2e tests", true},
		{"test", "Run unit tests of every affected project", "Testing", "No projects to test", false},
	}
	for _, t := range targets {
		cmd.AddCommand(newAffectedRunCmd(g, t.target, t.short, t.verb, t.empty, t.apps))
	}

	cmd.AddCommand(newAffectedDepGraphCmd(g))
	return cmd
}

func newAffectedListCmd(g *globalOptions, use, short string, pick func(affected.Result) []string) *cobra.Command {
	opts := &changeOptions{}
	cmd := &cobra.Command{
		Use:   use + " [base head]",
		Short: short,
		Args:  revisionArgs,
		RunE: g.runner(false, func(cmd *cobra.Command, e *env, args []string) error {
			res, _, err := e.compute(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			e.out.List(pick(res))
			return nil
		}),
	}
	opts.addFlags(cmd)
	return cmd
}

// runOptions configure an orchestrated affected command.
type runOptions struct {
	changeOptions
	parallel    bool
	maxParallel int
	metricsFile string
}

func newAffectedRunCmd(g *globalOptions, target, short, verb, empty string, appsOnly bool) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   target + " [base head] [-- args...]",
		Short: short,
		Long: short + `.

The workspace runner is invoked once per project as
  <runner.command> ` + target + ` [args...] <runner.projectFlag>=<project>
Sequential runs stop at the first failure and exit with its code. Parallel
runs collect every result and exit 1 if any project failed.`,
		Args: revisionArgs,
		RunE: g.runner(false, func(cmd *cobra.Command, e *env, args []string) error {
			revisions, passthrough := splitAtDash(cmd, args)
			res, _, err := e.compute(cmd.Context(), &opts.changeOptions, revisions)
			if err != nil {
				return err
			}

			projects := res.Projects
			if appsOnly {
				projects = res.Apps()
			}
			if len(projects) == 0 {
				e.out.Notice("%s", empty)
				return nil
			}
			e.out.Notice("%s %s", verb, strings.Join(projects, ", "))
			return e.orchestrate(cmd.Context(), opts, orchestrate.Request{
				Target:   target,
				Projects: projects,
				Args:     passthrough,
			})
		}),
	}
	opts.addFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&opts.parallel, "parallel", false, "Run projects concurrently and collect every result")
	f.IntVar(&opts.maxParallel, "max-parallel", 3, "Maximum concurrent projects with --parallel (0 = unbounded)")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write run metrics in Prometheus textfile format")
	return cmd
}

func (e *env) orchestrate(ctx context.Context, opts *runOptions, req orchestrate.Request) error {
	var metrics *orchestrate.Metrics
	if opts.metricsFile != "" {
		metrics = orchestrate.NewMetrics()
	}

	o := orchestrate.New(orchestrate.Options{
		Command:     e.ws.Config.Runner.Command,
		ProjectFlag: e.ws.Config.Runner.ProjectFlag,
		Dir:         e.ws.Root,
		Parallel:    opts.parallel,
		MaxParallel: opts.maxParallel,
		Stdin:       e.stdin,
		Stdout:      e.stdout,
		Stderr:      e.stderr,
		Logger:      e.log,
		Metrics:     metrics,
	})

	report, runErr := o.Run(ctx, req)

	if metrics != nil {
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			return err
		}
	}
	if opts.parallel {
		e.out.Report(report)
	}
	if runErr != nil {
		return runErr
	}
	if report.ExitCode != 0 {
		return &exitError{code: report.ExitCode, err: report.Err(), silent: true}
	}
	return nil
}

func newAffectedDepGraphCmd(g *globalOptions) *cobra.Command {
	opts := &depGraphOptions{}
	changes := &changeOptions{}
	cmd := &cobra.Command{
		Use:   "dep-graph [base head]",
		Short: "Export the dependency graph with affected projects highlighted",
		Args:  revisionArgs,
		RunE: g.runner(false, func(cmd *cobra.Command, e *env, args []string) error {
			res, gr, err := e.compute(cmd.Context(), changes, args)
			if err != nil {
				return err
			}
			return e.writeGraph(opts, export.New(gr, res.Projects))
		}),
	}
	changes.addFlags(cmd)
	opts.addFlags(cmd)
	return cmd
}
