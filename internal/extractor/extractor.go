package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/codemorph/internal/lang"
	"github.com/dshills/codemorph/internal/parser"
	"github.com/dshills/codemorph/pkg/types"
)

// IDBytes is the number of hash bytes kept in a symbol id
const IDBytes = 16

// ErrNilTree is returned when Extract is called without a syntax tree
var ErrNilTree = errors.New("syntax tree is nil")

// wrapperTypes are nodes whose leading comments document the declaration they wrap.
var wrapperTypes = map[string]struct{}{
	"export_statement":     {},
	"type_declaration":     {},
	"lexical_declaration":  {},
	"variable_declaration": {},
	"decorated_definition": {},
}

// functionValues are expression nodes whose own body is the body of a binding.
var functionValues = map[string]struct{}{
	"arrow_function":      {},
	"function":            {},
	"function_expression": {},
	"generator_function":  {},
}

// Extractor walks syntax trees and produces symbols and edges
type Extractor struct{}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract produces the symbols and edges of one file.
// Output is deterministic: symbols in tree pre-order, edges sorted.
func (e *Extractor) Extract(tree *parser.SyntaxTree, file types.SourceFile) (*types.ExtractResult, error) {
	if tree == nil || tree.Language == nil {
		return nil, ErrNilTree
	}
	if file.Path == "" {
		file.Path = tree.Path
	}
	file.Language = tree.Language.Name

	w := &walker{
		lang:   tree.Language,
		source: tree.Source,
		path:   file.Path,
	}
	w.addModule(tree.Root())
	w.walk(tree.Root(), w.frames[0])

	result := &types.ExtractResult{
		File:    file,
		Symbols: w.symbols,
		Imports: w.imports,
		Edges:   w.edges(),
	}
	return result, nil
}

// frame is one scope of the walk: a symbol and the declarations directly inside it
type frame struct {
	index    int // into walker.symbols
	treePath string
	parent   *frame
	children map[string][]int
	ordinals map[string]int
}

type pendingCall struct {
	from *frame
	name string
}

type walker struct {
	lang   *lang.Language
	source []byte
	path   string

	symbols []types.Symbol
	frames  []*frame
	calls   []pendingCall
	imports []string
	seenImp map[string]struct{}
}

func (w *walker) addModule(root *sitter.Node) {
	name := moduleName(w.path)
	sym := types.Symbol{
		Kind:          types.KindModule,
		Name:          name,
		QualifiedName: name,
		Path:          w.path,
		Language:      w.lang.Name,
		Span: types.Span{
			StartByte: 0,
			EndByte:   len(w.source),
			StartLine: 1,
			EndLine:   lineCount(w.source),
		},
		ContentHash: hashText(w.source),
		Doc:         w.moduleDoc(root),
	}
	treePath := name + "@0"
	sym.ID = SymbolID(w.path, treePath, sym.ContentHash)
	w.symbols = append(w.symbols, sym)
	w.frames = append(w.frames, newFrame(0, treePath, nil))
}

func newFrame(index int, treePath string, parent *frame) *frame {
	return &frame{
		index:    index,
		treePath: treePath,
		parent:   parent,
		children: make(map[string][]int),
		ordinals: make(map[string]int),
	}
}

func (w *walker) walk(node *sitter.Node, scope *frame) {
	if node == nil {
		return
	}
	nodeType := node.Type()

	if w.lang.ImportNames != nil {
		for _, name := range w.lang.ImportNames(node, w.source) {
			w.addImport(name)
		}
	}

	if field, ok := w.lang.Calls[nodeType]; ok {
		if callee := node.ChildByFieldName(field); callee != nil {
			if name := lang.LastSegment(lang.NodeText(callee, w.source)); isIdentifier(name) {
				w.calls = append(w.calls, pendingCall{from: scope, name: name})
			}
		}
	}

	if kind, ok := w.lang.Declarations[nodeType]; ok {
		if w.lang.AcceptDeclaration == nil || w.lang.AcceptDeclaration(node) {
			if next := w.declare(node, kind, scope); next != nil {
				scope = next
			}
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i), scope)
	}
}

// declare records a symbol for a declaration node and returns its scope,
// or nil when the declaration has no usable name.
func (w *walker) declare(node *sitter.Node, kind types.SymbolKind, scope *frame) *frame {
	name := lang.LastSegment(w.lang.DeclaredName(node, w.source))
	if name == "" {
		return nil
	}

	parent := &w.symbols[scope.index]
	if kind == types.KindFunction && parent.Kind == types.KindClass {
		kind = types.KindMethod
	}

	qualified := name
	if w.lang.Qualifier != nil {
		if q := w.lang.Qualifier(node, w.source); q != "" {
			qualified = q + "." + name
		}
	}
	if parent.Kind != types.KindModule {
		qualified = parent.QualifiedName + "." + qualified
	}

	start, end := node.StartByte(), node.EndByte()
	text := w.source[start:end]
	sym := types.Symbol{
		Kind:          kind,
		Name:          name,
		QualifiedName: qualified,
		Path:          w.path,
		Language:      w.lang.Name,
		Span: types.Span{
			StartByte: int(start),
			EndByte:   int(end),
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   endLine(node),
		},
		ContentHash: hashText(text),
		Signature:   w.signature(node),
		Doc:         w.docstring(node),
		ParentID:    parent.ID,
	}

	ordinal := scope.ordinals[name]
	scope.ordinals[name] = ordinal + 1
	treePath := scope.treePath + "/" + name + "@" + strconv.Itoa(ordinal)
	sym.ID = SymbolID(w.path, treePath, sym.ContentHash)

	index := len(w.symbols)
	w.symbols = append(w.symbols, sym)
	scope.children[name] = append(scope.children[name], index)

	f := newFrame(index, treePath, scope)
	w.frames = append(w.frames, f)
	return f
}

func (w *walker) addImport(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if w.seenImp == nil {
		w.seenImp = make(map[string]struct{})
	}
	if _, ok := w.seenImp[name]; ok {
		return
	}
	w.seenImp[name] = struct{}{}
	w.imports = append(w.imports, name)
}

// edges builds contains, imports and calls edges, deduplicated and sorted
func (w *walker) edges() []types.Edge {
	seen := make(map[types.Edge]struct{})
	var out []types.Edge
	add := func(e types.Edge) {
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	for _, sym := range w.symbols {
		if sym.ParentID != "" {
			add(types.Edge{Source: sym.ParentID, Kind: types.EdgeContains, Target: sym.ID})
		}
	}

	moduleID := w.symbols[0].ID
	for _, imp := range w.imports {
		add(types.Edge{Source: moduleID, Kind: types.EdgeImports, TargetName: imp})
	}

	for _, c := range w.calls {
		from := w.symbols[c.from.index].ID
		if target, ok := w.resolve(c.from, c.name); ok {
			add(types.Edge{Source: from, Kind: types.EdgeCalls, Target: w.symbols[target].ID})
			continue
		}
		add(types.Edge{Source: from, Kind: types.EdgeCalls, TargetName: c.name})
	}

	SortEdges(out)
	return out
}

// resolve looks a name up from the innermost scope outwards
func (w *walker) resolve(scope *frame, name string) (int, bool) {
	for f := scope; f != nil; f = f.parent {
		if idx, ok := f.children[name]; ok && len(idx) > 0 {
			return idx[0], true
		}
	}
	return 0, false
}

// signature returns the declaration text up to its body, whitespace collapsed
func (w *walker) signature(node *sitter.Node) string {
	start := node.StartByte()
	body := w.body(node)
	var text string
	if body != nil && body.StartByte() > start {
		text = string(w.source[start:body.StartByte()])
	} else {
		text = string(w.source[start:node.EndByte()])
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
	}
	return lang.CollapseWhitespace(text)
}

// body returns the body node of a declaration, descending into function-valued bindings
func (w *walker) body(node *sitter.Node) *sitter.Node {
	b := w.lang.Body(node)
	if b == nil {
		return nil
	}
	if _, ok := functionValues[b.Type()]; ok {
		if inner := b.ChildByFieldName("body"); inner != nil {
			return inner
		}
	}
	return b
}

// docstring returns the language docstring or the comment block above the declaration
func (w *walker) docstring(node *sitter.Node) string {
	if w.lang.Docstring != nil {
		if doc := w.lang.Docstring(node, w.source); doc != "" {
			return doc
		}
	}
	target := node
	if p := node.Parent(); p != nil {
		if _, ok := wrapperTypes[p.Type()]; ok {
			target = p
		}
	}
	if doc := w.leadingComments(target); doc != "" {
		return doc
	}
	if target != node {
		return w.leadingComments(node)
	}
	return ""
}

// leadingComments collects the comment block directly above node
func (w *walker) leadingComments(node *sitter.Node) string {
	var parts []string
	row := node.StartPoint().Row
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		if !w.lang.IsComment(prev.Type()) {
			break
		}
		if prev.EndPoint().Row+1 < row {
			break
		}
		parts = append(parts, cleanComment(lang.NodeText(prev, w.source)))
		row = prev.StartPoint().Row
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func (w *walker) moduleDoc(root *sitter.Node) string {
	if w.lang.Docstring != nil {
		if doc := w.lang.Docstring(root, w.source); doc != "" {
			return doc
		}
	}
	var parts []string
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if !w.lang.IsComment(child.Type()) {
			break
		}
		parts = append(parts, cleanComment(lang.NodeText(child, w.source)))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// cleanComment strips comment markers from each line
func cleanComment(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		for _, suffix := range []string{"*/", "*)"} {
			line = strings.TrimSuffix(line, suffix)
		}
		for _, prefix := range []string{"///", "//", "/**", "/*", "(**", "(*", "#", "*"} {
			if strings.HasPrefix(line, prefix) {
				line = line[len(prefix):]
				break
			}
		}
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SymbolID derives the stable id of a symbol from its file, path in the tree
// and span content hash.
func SymbolID(filePath, treePath, contentHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", filePath, treePath, contentHash)
	return hex.EncodeToString(h.Sum(nil)[:IDBytes])
}

// SortEdges orders edges by source, kind, target and target name
func SortEdges(edges []types.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.TargetName < b.TargetName
	})
}

// ModulePath returns the dotted module path of a file, e.g.
// "billing/account.py" -> "billing.account".
func ModulePath(filePath string) string {
	p := strings.TrimSuffix(filePath, path.Ext(filePath))
	return strings.ReplaceAll(p, "/", ".")
}

func moduleName(filePath string) string {
	base := path.Base(filePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

func hashText(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func lineCount(b []byte) int {
	if len(b) == 0 {
		return 1
	}
	n := strings.Count(string(b), "\n")
	if b[len(b)-1] != '\n' {
		n++
	}
	return n
}

func endLine(node *sitter.Node) int {
	start, end := node.StartPoint(), node.EndPoint()
	if end.Column == 0 && end.Row > start.Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '$' || r == '?' || r == '!' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r > 127) {
			return false
		}
	}
	return true
}
