package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"function_declaration": types.KindFunction,
			"method_declaration":   types.KindMethod,
			"type_spec":            types.KindClass,
		},
		Qualifier:    goReceiverType,
		Calls:        map[string]string{"call_expression": "function"},
		ImportNames:  goImportNames,
		BodyFields:   []string{"body"},
		CommentTypes: []string{"comment"},
	}
}

func goImportNames(node *sitter.Node, source []byte) []string {
	if node.Type() != "import_spec" {
		return nil
	}
	p := node.ChildByFieldName("path")
	if p == nil {
		return nil
	}
	return []string{unquote(NodeText(p, source))}
}

// goReceiverType returns the receiver type name of a method declaration.
func goReceiverType(node *sitter.Node, source []byte) string {
	if node.Type() != "method_declaration" {
		return ""
	}
	recv := node.ChildByFieldName("receiver")
	if recv == nil || recv.NamedChildCount() == 0 {
		return ""
	}
	param := recv.NamedChild(0)
	t := param.ChildByFieldName("type")
	for t != nil && t.Type() == "pointer_type" {
		if t.NamedChildCount() == 0 {
			return ""
		}
		t = t.NamedChild(0)
	}
	if t == nil {
		return ""
	}
	if t.Type() == "generic_type" {
		if n := t.ChildByFieldName("type"); n != nil {
			t = n
		}
	}
	return NodeText(t, source)
}
