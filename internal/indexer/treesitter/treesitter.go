// Package treesitter extracts symbols and references from source files using
// tree-sitter grammars. Go, JavaScript, TypeScript, Python, and Rust are
// supported; other languages are indexed without symbol information.
package treesitter

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// MaxParseChars caps the content handed to the grammar; larger files are
// truncated before parsing.
const MaxParseChars = 200_000

// Symbol is a declaration extracted from a file.
type Symbol struct {
	Name      string
	Kind      string // function, method, class, struct, interface, enum, trait, type
	StartLine int    // 1-based, inclusive
	EndLine   int    // 1-based, inclusive
	Signature string
}

// Reference is a call, import, or export site.
type Reference struct {
	Name string
	Line int // 1-based
	Kind string // call, import, export
}

// Result holds everything extracted from one file.
type Result struct {
	Symbols    []Symbol
	References []Reference
}

// Parser parses source files for the indexer. Safe for use from one goroutine.
type Parser struct {
	inner *sitter.Parser
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{inner: sitter.NewParser()}
}

// Close releases parser resources.
func (p *Parser) Close() {
	p.inner.Close()
}

// Supported reports whether the file extension has a grammar.
func Supported(path string) bool {
	return languageFor(path) != nil
}

func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	case ".ts", ".tsx", ".mts", ".cts":
		return typescript.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".rs":
		return rust.GetLanguage()
	default:
		return nil
	}
}

// Parse extracts symbols and references from content.
// Returns an empty result for unsupported extensions.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	lang := languageFor(path)
	if lang == nil {
		return &Result{}, nil
	}
	if len(content) > MaxParseChars {
		content = content[:MaxParseChars]
	}

	p.inner.SetLanguage(lang)
	tree, err := p.inner.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	ex := &extractor{src: content}
	ex.walk(tree.RootNode(), "")
	return &Result{Symbols: ex.symbols, References: ex.references}, nil
}

type extractor struct {
	src        []byte
	symbols    []Symbol
	references []Reference
}

func (e *extractor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(e.src)
}

func (e *extractor) addSymbol(n *sitter.Node, name, kind, signature string) {
	if name == "" {
		return
	}
	if len(signature) > 300 {
		signature = signature[:300]
	}
	e.symbols = append(e.symbols, Symbol{
		Name:      name,
		Kind:      kind,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Signature: signature,
	})
}

func (e *extractor) addRef(n *sitter.Node, name, kind string) {
	if name == "" {
		return
	}
	e.references = append(e.references, Reference{
		Name: name,
		Line: int(n.StartPoint().Row) + 1,
		Kind: kind,
	})
}

// firstLine returns the declaration's first source line as a short signature.
func (e *extractor) firstLine(n *sitter.Node) string {
	text := e.text(n)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimRight(strings.TrimSpace(text), "{ ")
}

// callName reduces a call target to its trailing identifier
// (e.g. "pkg.Client.Do" to "Do").
func callName(target string) string {
	if i := strings.LastIndexAny(target, ".:"); i >= 0 {
		target = target[i+1:]
	}
	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, "({[") {
		return ""
	}
	return target
}

func (e *extractor) walk(n *sitter.Node, parentKind string) {
	switch n.Type() {

	// --- Go ---
	case "function_declaration", "method_declaration":
		kind := "function"
		if n.Type() == "method_declaration" {
			kind = "method"
		}
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), kind, e.firstLine(n))
	case "type_spec":
		name := e.text(n.ChildByFieldName("name"))
		kind := "type"
		switch t := n.ChildByFieldName("type"); {
		case t != nil && t.Type() == "struct_type":
			kind = "struct"
		case t != nil && t.Type() == "interface_type":
			kind = "interface"
		}
		e.addSymbol(n, name, kind, e.firstLine(n))
	case "import_spec":
		spec := strings.Trim(e.text(n.ChildByFieldName("path")), `"`)
		e.addRef(n, spec, "import")

	// --- JavaScript / TypeScript ---
	case "class_declaration":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "class", e.firstLine(n))
	case "method_definition":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "method", e.firstLine(n))
	case "interface_declaration":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "interface", e.firstLine(n))
	case "enum_declaration":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "enum", e.firstLine(n))
	case "import_statement":
		if src := n.ChildByFieldName("source"); src != nil {
			// JS/TS: import ... from "source"
			e.addRef(n, strings.Trim(e.text(src), `"'`), "import")
		} else if n.NamedChildCount() > 0 {
			// Python: import a.b.c
			e.addRef(n, e.text(n.NamedChild(0)), "import")
		}
	case "export_statement":
		e.collectExportNames(n)

	// --- Python ---
	case "function_definition":
		kind := "function"
		if parentKind == "class" {
			kind = "method"
		}
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), kind, e.firstLine(n))
	case "class_definition":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "class", e.firstLine(n))
	case "import_from_statement":
		if mod := n.ChildByFieldName("module_name"); mod != nil {
			e.addRef(n, e.text(mod), "import")
		}
	// --- Rust ---
	case "function_item":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "function", e.firstLine(n))
	case "struct_item":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "struct", e.firstLine(n))
	case "enum_item":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "enum", e.firstLine(n))
	case "trait_item":
		e.addSymbol(n, e.text(n.ChildByFieldName("name")), "trait", e.firstLine(n))
	case "use_declaration":
		if arg := n.ChildByFieldName("argument"); arg != nil {
			e.addRef(n, e.text(arg), "import")
		}

	// --- Calls (shared node names across grammars) ---
	case "call_expression":
		if fn := n.ChildByFieldName("function"); fn != nil {
			e.addRef(n, callName(e.text(fn)), "call")
		}
	case "call": // python
		if fn := n.ChildByFieldName("function"); fn != nil {
			e.addRef(n, callName(e.text(fn)), "call")
		}
	}

	childParent := parentKind
	switch n.Type() {
	case "class_definition", "class_declaration":
		childParent = "class"
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		e.walk(n.Child(i), childParent)
	}
}

// collectExportNames records exported identifiers of a JS/TS export statement.
func (e *extractor) collectExportNames(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "identifier":
			e.addRef(child, e.text(child), "export")
		case "export_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() == "export_specifier" {
					e.addRef(spec, e.text(spec.ChildByFieldName("name")), "export")
				}
			}
		case "function_declaration", "class_declaration", "lexical_declaration",
			"interface_declaration", "enum_declaration":
			if name := child.ChildByFieldName("name"); name != nil {
				e.addRef(name, e.text(name), "export")
			}
		}
	}
}
