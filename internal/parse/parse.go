// Package parse extracts module references from TypeScript and JavaScript
// sources using Tree-sitter.
package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Lang identifies a source grammar.
type Lang string

const (
	LangTS  Lang = "ts"
	LangTSX Lang = "tsx"
	LangJS  Lang = "js"
)

// LangForPath returns the grammar for a file, or "" when the file is not
// a parseable source. Declaration files are treated as TypeScript.
func LangForPath(path string) Lang {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return LangTS
	case ".tsx":
		return LangTSX
	case ".js", ".jsx", ".mjs", ".cjs":
		return LangJS
	default:
		return ""
	}
}

// Parser holds one Tree-sitter parser per grammar. It is not safe for
// concurrent use.
type Parser struct {
	parsers map[Lang]*sitter.Parser
}

// NewParser creates a parser for every supported grammar.
func NewParser() *Parser {
	langs := map[Lang]*sitter.Language{
		LangTS:  typescript.GetLanguage(),
		LangTSX: tsx.GetLanguage(),
		LangJS:  javascript.GetLanguage(),
	}
	p := &Parser{parsers: make(map[Lang]*sitter.Parser, len(langs))}
	for lang, grammar := range langs {
		sp := sitter.NewParser()
		sp.SetLanguage(grammar)
		p.parsers[lang] = sp
	}
	return p
}

// Imports returns the sorted, deduplicated module references of a source
// file: static imports, re-exports, dynamic import() calls, require() calls
// and TypeScript import-equals declarations.
func (p *Parser) Imports(ctx context.Context, content []byte, lang Lang) ([]string, error) {
	parser, ok := p.parsers[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q", lang)
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing failed: %w", err)
	}

	seen := make(map[string]bool)
	iter := sitter.NewIterator(tree.RootNode(), sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}

		var source string
		switch n.Type() {
		case "import_statement":
			source = importSource(n, content)
		case "export_statement":
			if s := n.ChildByFieldName("source"); s != nil {
				source = stringValue(s, content)
			}
		case "call_expression":
			source = callSource(n, content)
		}

		if source != "" {
			seen[source] = true
		}
	}

	refs := make([]string, 0, len(seen))
	for s := range seen {
		refs = append(refs, s)
	}
	sort.Strings(refs)
	return refs, nil
}

// importSource handles `import x from 'a'`, `import 'a'` and
// `import x = require('a')`.
func importSource(n *sitter.Node, content []byte) string {
	if s := n.ChildByFieldName("source"); s != nil {
		return stringValue(s, content)
	}
	return firstString(n, content)
}

func firstString(n *sitter.Node, content []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "string" {
			return stringValue(child, content)
		}
		if s := firstString(child, content); s != "" {
			return s
		}
	}
	return ""
}

// callSource handles import('a') and require('a') with a literal argument.
func callSource(n *sitter.Node, content []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch {
	case fn.Type() == "import":
	case fn.Type() == "identifier" && fn.Content(content) == "require":
	default:
		return ""
	}

	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return ""
	}
	return stringValue(first, content)
}

func stringValue(n *sitter.Node, content []byte) string {
	if n.Type() != "string" {
		return ""
	}
	return strings.Trim(n.Content(content), "\"'`")
}

// IsRelative reports whether a module reference is a relative path.
func IsRelative(ref string) bool {
	return ref == "." || ref == ".." || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../")
}
