package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kai-ws/internal/export"
	"kai-ws/internal/graph"
)

// depGraphOptions control graph export.
type depGraphOptions struct {
	file    string
	format  string
	compare string
}

func (o *depGraphOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.file, "file", "", "Write the graph to a file; the extension picks the format (.json, .dot, .json.zst)")
	f.StringVar(&o.format, "format", "json", "Format when writing to stdout (json, dot)")
	f.StringVar(&o.compare, "compare", "", "Compare with a previously exported graph and exit 1 when it differs")
}

func newDepGraphCmd(g *globalOptions) *cobra.Command {
	opts := &depGraphOptions{}
	cmd := &cobra.Command{
		Use:   "dep-graph",
		Short: "Export the project dependency graph",
		Long: `Builds the project dependency graph from source imports and writes it as
JSON, Graphviz DOT or zstd-compressed JSON.

Examples:
  kai-ws dep-graph
  kai-ws dep-graph --file=graph.dot
  kai-ws dep-graph --file=graph.json.zst
  kai-ws dep-graph --compare=graph.json.zst`,
		Args: cobra.NoArgs,
		RunE: g.runner(false, func(cmd *cobra.Command, e *env, args []string) error {
			gr, err := graph.NewBuilder(e.ws, graph.WithIgnore(e.ignore), graph.WithLogger(e.log)).Build(cmd.Context())
			if err != nil {
				return err
			}
			return e.writeGraph(opts, export.New(gr, nil))
		}),
	}
	opts.addFlags(cmd)
	return cmd
}

func (e *env) writeGraph(opts *depGraphOptions, doc export.Document) error {
	if opts.compare != "" {
		prev, err := export.ReadFile(opts.compare)
		if err != nil {
			return err
		}
		if prev.Fingerprint != doc.Fingerprint {
			e.errOut.Notice("Graph changed: %s -> %s", short(prev.Fingerprint), short(doc.Fingerprint))
			return &exitError{code: 1, silent: true}
		}
		e.out.Notice("Graph unchanged (%s)", short(doc.Fingerprint))
		return nil
	}

	if opts.file != "" {
		if err := export.WriteFile(opts.file, doc); err != nil {
			return err
		}
		e.log.WithField("file", opts.file).Info("graph written")
		return nil
	}

	format := export.Format(opts.format)
	if format != export.FormatJSON && format != export.FormatDOT {
		return fmt.Errorf("unsupported --format %q for stdout (use json or dot)", opts.format)
	}
	return export.Encode(e.stdout, doc, format)
}

// short truncates a fingerprint to 12 characters.
func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
