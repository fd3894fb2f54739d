// Package graph holds the symbol graph of a repository as an arena of nodes
// and edges addressed by stable symbol ids.
package graph

import (
	"path"
	"sort"
	"strings"

	"github.com/dshills/codemorph/internal/extractor"
	"github.com/dshills/codemorph/internal/lang"
	"github.com/dshills/codemorph/pkg/types"
)

// Graph is a directed multigraph of symbols. Cycles are plain id references.
type Graph struct {
	nodes []types.Symbol
	index map[string]int
	edges []types.Edge
	out   [][]int // edge indices by source slot
	in    [][]int // edge indices by target slot
}

// Build creates a graph from symbols and edges. Call edges known only by name
// are resolved across files through the caller's imports; calls that still
// cannot be resolved are dropped. Edges pointing to unknown ids are dropped.
func Build(symbols []types.Symbol, edges []types.Edge) *Graph {
	g := &Graph{
		nodes: make([]types.Symbol, len(symbols)),
		index: make(map[string]int, len(symbols)),
		out:   make([][]int, len(symbols)),
		in:    make([][]int, len(symbols)),
	}
	copy(g.nodes, symbols)
	for i, s := range g.nodes {
		g.index[s.ID] = i
	}

	r := newResolver(g.nodes, edges)
	seen := make(map[types.Edge]struct{}, len(edges))
	for _, e := range edges {
		if e.Resolved() {
			g.add(e, seen)
			continue
		}
		if e.Kind != types.EdgeCalls {
			continue
		}
		for _, target := range r.resolve(e.Source, e.TargetName) {
			g.add(types.Edge{Source: e.Source, Kind: e.Kind, Target: target}, seen)
		}
	}
	return g
}

func (g *Graph) add(e types.Edge, seen map[types.Edge]struct{}) {
	src, ok := g.index[e.Source]
	if !ok {
		return
	}
	dst, ok := g.index[e.Target]
	if !ok {
		return
	}
	e.TargetName = ""
	if _, dup := seen[e]; dup {
		return
	}
	seen[e] = struct{}{}
	i := len(g.edges)
	g.edges = append(g.edges, e)
	g.out[src] = append(g.out[src], i)
	g.in[dst] = append(g.in[dst], i)
}

// Len returns the number of symbols
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the symbol with the given id
func (g *Graph) Node(id string) (types.Symbol, bool) {
	i, ok := g.index[id]
	if !ok {
		return types.Symbol{}, false
	}
	return g.nodes[i], true
}

// Nodes returns all symbols in arena order
func (g *Graph) Nodes() []types.Symbol {
	return g.nodes
}

// Edges returns the resolved edges in insertion order
func (g *Graph) Edges() []types.Edge {
	return g.edges
}

// Neighbors returns the ids adjacent to id in either direction through edges
// of the given kinds (all kinds when none are given), sorted and unique.
func (g *Graph) Neighbors(id string, kinds ...types.EdgeKind) []string {
	slot, ok := g.index[id]
	if !ok {
		return nil
	}
	set := make(map[string]struct{})
	for _, ei := range g.out[slot] {
		if e := g.edges[ei]; matchKind(e.Kind, kinds) {
			set[e.Target] = struct{}{}
		}
	}
	for _, ei := range g.in[slot] {
		if e := g.edges[ei]; matchKind(e.Kind, kinds) {
			set[e.Source] = struct{}{}
		}
	}
	delete(set, id)

	ids := make([]string, 0, len(set))
	for n := range set {
		ids = append(ids, n)
	}
	sort.Strings(ids)
	return ids
}

// Outgoing returns the edges leaving id, optionally filtered by kind
func (g *Graph) Outgoing(id string, kinds ...types.EdgeKind) []types.Edge {
	slot, ok := g.index[id]
	if !ok {
		return nil
	}
	var out []types.Edge
	for _, ei := range g.out[slot] {
		if e := g.edges[ei]; matchKind(e.Kind, kinds) {
			out = append(out, e)
		}
	}
	return out
}

func matchKind(k types.EdgeKind, kinds []types.EdgeKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// resolver maps by-name call references to symbols in imported files
type resolver struct {
	fileOf  map[string]string   // symbol id -> file path
	imports map[string][]string // file path -> normalized import names
	byName  map[string][]int    // name -> slots of non-module symbols
	keys    map[string][]string // file path -> module keys
	nodes   []types.Symbol
}

func newResolver(nodes []types.Symbol, edges []types.Edge) *resolver {
	r := &resolver{
		fileOf:  make(map[string]string, len(nodes)),
		imports: make(map[string][]string),
		byName:  make(map[string][]int),
		keys:    make(map[string][]string),
		nodes:   nodes,
	}
	for i, s := range nodes {
		r.fileOf[s.ID] = s.Path
		if s.Kind == types.KindModule {
			continue
		}
		r.byName[s.Name] = append(r.byName[s.Name], i)
		if _, ok := r.keys[s.Path]; !ok {
			r.keys[s.Path] = moduleKeys(s.Path)
		}
	}
	for _, e := range edges {
		if e.Kind != types.EdgeImports || e.TargetName == "" {
			continue
		}
		file, ok := r.fileOf[e.Source]
		if !ok {
			continue
		}
		if imp := NormalizeImport(e.TargetName); imp != "" {
			r.imports[file] = append(r.imports[file], imp)
		}
	}
	return r
}

// resolve returns the ids of symbols named name in files imported by the
// caller's file, sorted.
func (r *resolver) resolve(sourceID, name string) []string {
	file, ok := r.fileOf[sourceID]
	if !ok {
		return nil
	}
	imports := r.imports[file]
	if len(imports) == 0 {
		return nil
	}
	var ids []string
	for _, slot := range r.byName[name] {
		cand := r.nodes[slot]
		if cand.Path == file {
			continue
		}
		if importsFile(imports, r.keys[cand.Path]) {
			ids = append(ids, cand.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func importsFile(imports, keys []string) bool {
	for _, imp := range imports {
		for _, key := range keys {
			if key == imp || strings.HasSuffix(imp, "."+key) || strings.HasSuffix(key, "."+imp) {
				return true
			}
		}
	}
	return false
}

// moduleKeys returns the dotted names a file can be imported by: its module
// path and, for package-style imports, its directory.
func moduleKeys(filePath string) []string {
	keys := []string{extractor.ModulePath(filePath)}
	if dir := path.Dir(filePath); dir != "." && dir != "/" {
		keys = append(keys, strings.ReplaceAll(dir, "/", "."))
	}
	return keys
}

// NormalizeImport turns an import name into dotted form, e.g.
// "./lib/ledger.js" -> "lib.ledger", "github.com/x/y" -> "github.com.x.y".
func NormalizeImport(name string) string {
	name = strings.TrimSpace(name)
	for strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "../")
	}
	if ext := path.Ext(name); ext != "" && lang.ForExtension(ext) != "" {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.NewReplacer("/", ".", "::", ".", "\\", ".").Replace(name)
	return strings.Trim(name, ".")
}
