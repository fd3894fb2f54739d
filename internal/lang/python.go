package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		lang:       python.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"function_definition": types.KindFunction,
			"class_definition":    types.KindClass,
		},
		Calls:        map[string]string{"call": "function"},
		ImportNames:  pythonImportNames,
		BodyFields:   []string{"body"},
		Docstring:    pythonDocstring,
		CommentTypes: []string{"comment"},
	}
}

func pythonImportNames(node *sitter.Node, source []byte) []string {
	switch node.Type() {
	case "import_statement":
		var names []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				names = append(names, NodeText(child, source))
			case "aliased_import":
				if n := child.ChildByFieldName("name"); n != nil {
					names = append(names, NodeText(n, source))
				}
			}
		}
		return names
	case "import_from_statement":
		if m := node.ChildByFieldName("module_name"); m != nil {
			return []string{strings.TrimLeft(NodeText(m, source), ".")}
		}
	}
	return nil
}

// pythonDocstring returns the first statement of the body when it is a string literal.
func pythonDocstring(node *sitter.Node, source []byte) string {
	body := node.ChildByFieldName("body")
	if node.Type() == "module" {
		body = node
	}
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return trimPythonString(NodeText(str, source))
}

func trimPythonString(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}
