package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["java"] = &Language{
		Name:       "java",
		Extensions: []string{".java"},
		lang:       java.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"class_declaration":       types.KindClass,
			"interface_declaration":   types.KindClass,
			"enum_declaration":        types.KindClass,
			"record_declaration":      types.KindClass,
			"method_declaration":      types.KindMethod,
			"constructor_declaration": types.KindMethod,
		},
		Calls: map[string]string{
			"method_invocation":          "name",
			"object_creation_expression": "type",
		},
		ImportNames:  javaImportNames,
		BodyFields:   []string{"body"},
		CommentTypes: []string{"line_comment", "block_comment"},
	}
}

func javaImportNames(node *sitter.Node, source []byte) []string {
	if node.Type() != "import_declaration" {
		return nil
	}
	text := strings.TrimSpace(NodeText(node, source))
	text = strings.TrimPrefix(text, "import")
	text = strings.TrimSuffix(text, ";")
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "static"))
	return []string{text}
}
