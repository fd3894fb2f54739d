package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ocaml"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["ocaml"] = &Language{
		Name:       "ocaml",
		Extensions: []string{".ml"},
		lang:       ocaml.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"let_binding":    types.KindFunction,
			"module_binding": types.KindBlock,
			"class_binding":  types.KindClass,
		},
		AcceptDeclaration: ocamlAcceptDeclaration,
		NameOf:            ocamlName,
		Calls:             map[string]string{"application_expression": "function"},
		ImportNames:       ocamlImportNames,
		BodyFields:        []string{"body"},
		CommentTypes:      []string{"comment"},
	}
}

// ocamlAcceptDeclaration keeps let bindings that take parameters.
func ocamlAcceptDeclaration(node *sitter.Node) bool {
	if node.Type() != "let_binding" {
		return true
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == "parameter" {
			return true
		}
	}
	return false
}

func ocamlName(node *sitter.Node, source []byte) string {
	if p := node.ChildByFieldName("pattern"); p != nil {
		return NodeText(p, source)
	}
	return ""
}

func ocamlImportNames(node *sitter.Node, source []byte) []string {
	if node.Type() != "open_module" {
		return nil
	}
	text := strings.TrimSpace(strings.TrimPrefix(NodeText(node, source), "open"))
	return []string{strings.TrimPrefix(text, "!")}
}
