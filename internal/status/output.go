// Package status formats command results for the terminal.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"kai-ws/internal/lint"
	"kai-ws/internal/orchestrate"
)

// Printer writes styled output. Styling is dropped when color is disabled.
type Printer struct {
	w     io.Writer
	color bool

	header  lipgloss.Style
	failure lipgloss.Style
	success lipgloss.Style
	muted   lipgloss.Style
}

// NewPrinter creates a printer for w. Color is used only when w is a
// terminal and noColor is false.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	p := &Printer{w: w, color: !noColor && IsTerminal(w)}
	r := lipgloss.NewRenderer(w)
	p.header = r.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	p.failure = r.NewStyle().Foreground(lipgloss.Color("196"))
	p.success = r.NewStyle().Foreground(lipgloss.Color("42"))
	p.muted = r.NewStyle().Foreground(lipgloss.Color("241"))
	return p
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// List prints names on one line separated by spaces, or nothing when empty.
func (p *Printer) List(names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(p.w, strings.Join(names, " "))
}

// Notice prints an informational line.
func (p *Printer) Notice(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(p.muted, fmt.Sprintf(format, args...)))
}

// Error prints an error and optional guidance text.
func (p *Printer) Error(err error, guidance string) {
	fmt.Fprintln(p.w, p.render(p.failure, "Error: "+err.Error()))
	if guidance != "" {
		fmt.Fprintln(p.w)
		fmt.Fprintln(p.w, guidance)
	}
}

// Violations prints each group's header followed by its violations.
func (p *Printer) Violations(groups []lint.ViolationGroup) {
	for _, g := range groups {
		fmt.Fprintln(p.w, p.render(p.header, g.Header))
		for _, v := range g.Violations {
			fmt.Fprintf(p.w, "  %s\n", p.render(p.failure, v.Message))
		}
		fmt.Fprintln(p.w)
	}
}

// Report prints a one-line summary of an orchestration, naming failed
// projects.
func (p *Printer) Report(report *orchestrate.Report) {
	if report.Skipped {
		return
	}

	var elapsed time.Duration
	var failed []string
	for _, res := range report.Results {
		elapsed += res.Duration
		if res.Failed() {
			failed = append(failed, res.Project)
		}
	}

	succeeded := len(report.Results) - len(failed)
	summary := fmt.Sprintf("%s: %d succeeded", report.Target, succeeded)
	if len(failed) == 0 {
		fmt.Fprintln(p.w, p.render(p.success, summary)+p.render(p.muted, fmt.Sprintf(" (%s)", elapsed.Round(time.Millisecond))))
		return
	}
	summary += fmt.Sprintf(", %d failed (%s)", len(failed), strings.Join(failed, ", "))
	fmt.Fprintln(p.w, p.render(p.failure, summary))
}
