// Package orchestrate runs the workspace build tool once per project,
// either one after another stopping at the first failure, or on a bounded
// pool of workers collecting every result.
package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultKillDelay is how long an interrupted child may take to exit
// before it is killed.
const DefaultKillDelay = 5 * time.Second

// Options configures an Orchestrator.
type Options struct {
	// Command is the runner invocation, e.g. ["ng"].
	Command []string
	// ProjectFlag names the project on the command line as flag=project.
	ProjectFlag string
	// Dir is the working directory of every child.
	Dir string

	Parallel bool
	// MaxParallel bounds concurrent children; <= 0 means one per project.
	MaxParallel int
	KillDelay   time.Duration

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Request is one orchestration: run Target for each project.
type Request struct {
	Target   string
	Projects []string
	// Args are passed through to every child after the target.
	Args []string
}

// Result is the outcome of one child process.
type Result struct {
	Project  string
	Args     []string
	ExitCode int
	Duration time.Duration
	// Output is the combined output; only captured in parallel mode.
	Output []byte
	// Err is a *BuildFailure when the child failed.
	Err error
}

// Failed reports whether the child did not exit zero.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Report is the outcome of an orchestration.
type Report struct {
	RunID  string
	Target string
	// Skipped is set when there were no projects to run.
	Skipped bool
	// Results are in request order. In sequential mode projects after the
	// first failure have no result.
	Results []Result
	// ExitCode is 0 on success. Sequential runs carry the failing child's
	// code, parallel runs 1.
	ExitCode int
}

// Failures returns the failed results' errors.
func (r *Report) Failures() []*BuildFailure {
	var out []*BuildFailure
	for _, res := range r.Results {
		var bf *BuildFailure
		if errors.As(res.Err, &bf) {
			out = append(out, bf)
		}
	}
	return out
}

// Err joins every failure, nil when the run succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, bf := range r.Failures() {
		errs = append(errs, bf)
	}
	return errors.Join(errs...)
}

// Orchestrator runs build targets over projects.
type Orchestrator struct {
	opts Options
	mu   sync.Mutex // guards writes to opts.Stdout in parallel mode
}

// New creates an orchestrator, filling unset options with defaults.
func New(opts Options) *Orchestrator {
	if len(opts.Command) == 0 {
		opts.Command = []string{"ng"}
	}
	if opts.ProjectFlag == "" {
		opts.ProjectFlag = "-a"
	}
	if opts.KillDelay <= 0 {
		opts.KillDelay = DefaultKillDelay
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		opts.Logger = discard
	}
	return &Orchestrator{opts: opts}
}

// Run executes req. The returned error is only non-nil when ctx was
// cancelled; child failures are reported through the Report.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Target: req.Target}
	log := o.opts.Logger.WithFields(logrus.Fields{"run_id": report.RunID, "target": req.Target})

	if len(req.Projects) == 0 {
		report.Skipped = true
		log.Info("no projects to run")
		return report, nil
	}

	log.WithFields(logrus.Fields{
		"projects": len(req.Projects),
		"parallel": o.opts.Parallel,
	}).Info("orchestration started")

	start := time.Now()
	if o.opts.Parallel {
		o.runParallel(ctx, log, req, report)
	} else {
		o.runSequential(ctx, log, req, report)
	}

	log.WithFields(logrus.Fields{
		"exit_code": report.ExitCode,
		"failures":  len(report.Failures()),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("orchestration finished")

	return report, ctx.Err()
}

func (o *Orchestrator) runSequential(ctx context.Context, log logrus.FieldLogger, req Request, report *Report) {
	for _, project := range req.Projects {
		res := o.runOne(ctx, log, req, project, o.opts.Stdout, o.opts.Stderr, o.opts.Stdin)
		report.Results = append(report.Results, res)
		if res.Failed() {
			report.ExitCode = res.ExitCode
			return
		}
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, log logrus.FieldLogger, req Request, report *Report) {
	limit := o.opts.MaxParallel
	if limit <= 0 || limit > len(req.Projects) {
		limit = len(req.Projects)
	}

	results := make([]Result, len(req.Projects))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, project := range req.Projects {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{
					Project:  project,
					ExitCode: 1,
					Err:      &BuildFailure{Project: project, ExitCode: 1, Err: err},
				}
				return nil
			}
			var buf bytes.Buffer
			res := o.runOne(ctx, log, req, project, &buf, &buf, nil)
			res.Output = buf.Bytes()
			results[i] = res
			o.writeBlock(res)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	for _, res := range results {
		if res.Failed() {
			report.ExitCode = 1
			break
		}
	}
}

func (o *Orchestrator) writeBlock(res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := "succeeded"
	if res.Failed() {
		status = fmt.Sprintf("failed with exit code %d", res.ExitCode)
	}
	fmt.Fprintf(o.opts.Stdout, "==> %s: %s (%s)\n", res.Project, status, res.Duration.Round(time.Millisecond))
	if _, err := o.opts.Stdout.Write(res.Output); err != nil {
		o.opts.Logger.WithError(err).WithField("project", res.Project).Warn("writing project output")
	}
	if len(res.Output) > 0 && res.Output[len(res.Output)-1] != '\n' {
		fmt.Fprintln(o.opts.Stdout)
	}
}

// Args returns the command line used for project.
func (o *Orchestrator) Args(req Request, project string) []string {
	args := make([]string, 0, len(o.opts.Command)+len(req.Args)+2)
	args = append(args, o.opts.Command...)
	args = append(args, req.Target)
	args = append(args, req.Args...)
	args = append(args, o.opts.ProjectFlag+"="+project)
	return args
}

func (o *Orchestrator) runOne(ctx context.Context, log logrus.FieldLogger, req Request, project string, stdout, stderr io.Writer, stdin io.Reader) Result {
	args := o.Args(req, project)
	log = log.WithField("project", project)
	log.WithField("command", strings.Join(args, " ")).Debug("starting")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = o.opts.Dir
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	// Set by Cancel; Run only returns after Cancel has.
	var killAt time.Time
	cmd.Cancel = func() error {
		killAt = time.Now().Add(o.opts.KillDelay)
		return interruptGroup(cmd)
	}
	cmd.WaitDelay = o.opts.KillDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{Project: project, Args: args, Duration: time.Since(start)}

	if !killAt.IsZero() {
		if rerr := reapGroup(cmd, killAt); rerr != nil {
			log.WithError(rerr).Warn("could not terminate process group")
		}
	}

	if err != nil {
		res.ExitCode = exitCode(err)
		res.Err = &BuildFailure{Project: project, ExitCode: res.ExitCode, Err: err}
		log.WithError(err).WithField("exit_code", res.ExitCode).Warn("project failed")
	} else {
		log.WithField("elapsed", res.Duration.Round(time.Millisecond)).Debug("project succeeded")
	}

	if o.opts.Metrics != nil {
		o.opts.Metrics.observe(req.Target, res)
	}
	return res
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
