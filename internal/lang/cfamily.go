package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["c"] = &Language{
		Name:       "c",
		Extensions: []string{".c", ".h"},
		lang:       c.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"function_definition": types.KindFunction,
			"struct_specifier":    types.KindClass,
		},
		AcceptDeclaration: hasBody,
		NameOf:            cDeclaratorName,
		Calls:             map[string]string{"call_expression": "function"},
		ImportNames:       cIncludeNames,
		BodyFields:        []string{"body"},
		CommentTypes:      []string{"comment"},
	}
	Languages["cpp"] = &Language{
		Name:       "cpp",
		Extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh"},
		lang:       cpp.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"function_definition":  types.KindFunction,
			"class_specifier":      types.KindClass,
			"struct_specifier":     types.KindClass,
			"namespace_definition": types.KindBlock,
		},
		AcceptDeclaration: hasBody,
		NameOf:            cDeclaratorName,
		Calls:             map[string]string{"call_expression": "function"},
		ImportNames:       cIncludeNames,
		BodyFields:        []string{"body"},
		CommentTypes:      []string{"comment"},
	}
}

// hasBody drops forward declarations such as "struct foo;".
func hasBody(node *sitter.Node) bool {
	return node.ChildByFieldName("body") != nil
}

// cDeclaratorName follows nested declarators down to the declared identifier.
func cDeclaratorName(node *sitter.Node, source []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return NodeText(n, source)
	}
	d := node.ChildByFieldName("declarator")
	for d != nil {
		switch d.Type() {
		case "identifier", "field_identifier", "destructor_name", "operator_name":
			return NodeText(d, source)
		case "qualified_identifier":
			return LastSegment(NodeText(d, source))
		}
		d = d.ChildByFieldName("declarator")
	}
	return ""
}

func cIncludeNames(node *sitter.Node, source []byte) []string {
	if node.Type() != "preproc_include" {
		return nil
	}
	p := node.ChildByFieldName("path")
	if p == nil {
		return nil
	}
	return []string{unquote(NodeText(p, source))}
}
