// Package export projects the dependency graph into a serializable document
// and encodes it as JSON, Graphviz DOT or zstd-compressed JSON.
package export

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"kai-ws/internal/graph"
	"kai-ws/internal/workspace"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatDOT  Format = "dot"
	FormatZstd Format = "json.zst"
)

// Node is a project in the exported document.
type Node struct {
	Name     string         `json:"name"`
	Kind     workspace.Kind `json:"kind"`
	Root     string         `json:"root"`
	Tags     []string       `json:"tags"`
	Affected *bool          `json:"affected,omitempty"`
}

// Document is the exported form of a graph.
type Document struct {
	Nodes       []Node       `json:"nodes"`
	Edges       []graph.Edge `json:"edges"`
	Fingerprint string       `json:"fingerprint"`
}

// New builds a document from g. When affected is non-nil every node
// carries an affected flag; otherwise the flag is omitted.
func New(g *graph.Graph, affected []string) Document {
	var marked map[string]bool
	if affected != nil {
		marked = make(map[string]bool, len(affected))
		for _, name := range affected {
			marked[name] = true
		}
	}

	doc := Document{Nodes: []Node{}, Edges: g.Edges()}
	if doc.Edges == nil {
		doc.Edges = []graph.Edge{}
	}
	for _, p := range g.Nodes() {
		n := Node{Name: p.Name, Kind: p.Kind, Root: p.Root, Tags: p.Tags}
		if n.Tags == nil {
			n.Tags = []string{}
		}
		if marked != nil {
			v := marked[p.Name]
			n.Affected = &v
		}
		doc.Nodes = append(doc.Nodes, n)
	}
	doc.Fingerprint = Fingerprint(doc)
	return doc
}

// Fingerprint returns the hex BLAKE3 digest of the document's nodes and
// edges. Affected flags do not contribute.
func Fingerprint(doc Document) string {
	h := blake3.New(32, nil)
	for _, n := range doc.Nodes {
		fmt.Fprintf(h, "node\t%s\t%s\t%s\t%s\n", n.Name, n.Kind, n.Root, strings.Join(n.Tags, ","))
	}
	for _, e := range doc.Edges {
		fmt.Fprintf(h, "edge\t%s\t%s\n", e.From, e.To)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FormatForPath picks the encoding from a file name. Unknown extensions
// default to JSON.
func FormatForPath(p string) Format {
	switch {
	case strings.HasSuffix(p, ".json.zst"), strings.HasSuffix(p, ".zst"):
		return FormatZstd
	case strings.HasSuffix(p, ".dot"), strings.HasSuffix(p, ".gv"):
		return FormatDOT
	default:
		return FormatJSON
	}
}

// Encode writes doc to w in the given format.
func Encode(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatJSON, "":
		return writeJSON(w, doc)
	case FormatDOT:
		return writeDOT(w, doc)
	case FormatZstd:
		return writeZstd(w, doc)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteFile writes doc to path, choosing the format from its extension.
func WriteFile(path string, doc Document) error {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, FormatForPath(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing graph: %w", err)
	}
	return nil
}

// ReadFile loads a document previously written as JSON or zstd-compressed
// JSON.
func ReadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("opening graph: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch FormatForPath(path) {
	case FormatZstd:
		decoder, err := zstd.NewReader(f)
		if err != nil {
			return Document{}, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer decoder.Close()
		r = decoder
	case FormatDOT:
		return Document{}, fmt.Errorf("reading %s: DOT graphs cannot be read back", path)
	}

	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decoding graph: %w", err)
	}
	return doc, nil
}

func writeJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	return nil
}

func writeZstd(w io.Writer, doc Document) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if err := json.NewEncoder(encoder).Encode(doc); err != nil {
		encoder.Close()
		return fmt.Errorf("compressing graph: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	return nil
}

func writeDOT(w io.Writer, doc Document) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph workspace {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	for _, n := range doc.Nodes {
		attrs := []string{"label=" + strconv.Quote(n.Name)}
		if n.Kind == workspace.KindApp {
			attrs = append(attrs, "shape=box")
		} else {
			attrs = append(attrs, "shape=ellipse")
		}
		if n.Affected != nil && *n.Affected {
			attrs = append(attrs, "style=filled", `fillcolor="#f4a261"`)
		}
		fmt.Fprintf(bw, "  %s [%s];\n", strconv.Quote(n.Name), strings.Join(attrs, ", "))
	}
	for _, e := range doc.Edges {
		fmt.Fprintf(bw, "  %s -> %s;\n", strconv.Quote(e.From), strconv.Quote(e.To))
	}
	fmt.Fprintln(bw, "}")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing graph: %w", err)
	}
	return nil
}
