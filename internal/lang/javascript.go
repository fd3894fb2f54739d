package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["javascript"] = ecmaLanguage("javascript", []string{".js", ".mjs", ".cjs", ".jsx"}, javascript.GetLanguage())
	Languages["typescript"] = ecmaLanguage("typescript", []string{".ts", ".mts", ".cts"}, typescript.GetLanguage())
	Languages["tsx"] = ecmaLanguage("tsx", []string{".tsx"}, tsx.GetLanguage())
}

// ecmaLanguage builds the shared configuration of the JavaScript family.
// TypeScript-only node types never occur in JavaScript trees, so one mapping serves all.
func ecmaLanguage(name string, exts []string, l *sitter.Language) *Language {
	return &Language{
		Name:       name,
		Extensions: exts,
		lang:       l,
		Declarations: map[string]types.SymbolKind{
			"function_declaration":           types.KindFunction,
			"generator_function_declaration": types.KindFunction,
			"variable_declarator":            types.KindFunction,
			"class_declaration":              types.KindClass,
			"abstract_class_declaration":     types.KindClass,
			"interface_declaration":          types.KindClass,
			"method_definition":              types.KindMethod,
			"internal_module":                types.KindBlock,
		},
		AcceptDeclaration: ecmaAcceptDeclaration,
		Calls: map[string]string{
			"call_expression": "function",
			"new_expression":  "constructor",
		},
		ImportNames:  ecmaImportNames,
		BodyFields:   []string{"body", "value"},
		CommentTypes: []string{"comment"},
	}
}

// ecmaAcceptDeclaration keeps variable declarators only when they bind a function.
func ecmaAcceptDeclaration(node *sitter.Node) bool {
	if node.Type() != "variable_declarator" {
		return true
	}
	v := node.ChildByFieldName("value")
	if v == nil {
		return false
	}
	switch v.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func ecmaImportNames(node *sitter.Node, source []byte) []string {
	switch node.Type() {
	case "import_statement", "export_statement":
		if s := node.ChildByFieldName("source"); s != nil {
			return []string{unquote(NodeText(s, source))}
		}
	}
	return nil
}
