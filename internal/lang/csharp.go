package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["csharp"] = &Language{
		Name:       "csharp",
		Extensions: []string{".cs"},
		lang:       csharp.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"class_declaration":        types.KindClass,
			"interface_declaration":    types.KindClass,
			"struct_declaration":       types.KindClass,
			"record_declaration":       types.KindClass,
			"enum_declaration":         types.KindClass,
			"method_declaration":       types.KindMethod,
			"constructor_declaration":  types.KindMethod,
			"local_function_statement": types.KindFunction,
			"namespace_declaration":    types.KindBlock,
		},
		Calls: map[string]string{
			"invocation_expression":      "function",
			"object_creation_expression": "type",
		},
		ImportNames:  csharpImportNames,
		BodyFields:   []string{"body"},
		CommentTypes: []string{"comment"},
	}
}

func csharpImportNames(node *sitter.Node, source []byte) []string {
	if node.Type() != "using_directive" {
		return nil
	}
	text := strings.TrimSpace(NodeText(node, source))
	text = strings.TrimSuffix(strings.TrimPrefix(text, "using"), ";")
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "static"))
	if i := strings.Index(text, "="); i >= 0 {
		text = text[i+1:]
	}
	return []string{strings.TrimSpace(text)}
}
