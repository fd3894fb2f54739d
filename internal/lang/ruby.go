package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"github.com/dshills/codemorph/pkg/types"
)

func init() {
	Languages["ruby"] = &Language{
		Name:       "ruby",
		Extensions: []string{".rb"},
		lang:       ruby.GetLanguage(),
		Declarations: map[string]types.SymbolKind{
			"method":           types.KindFunction,
			"singleton_method": types.KindFunction,
			"class":            types.KindClass,
			"module":           types.KindBlock,
		},
		Calls:        map[string]string{"call": "method"},
		ImportNames:  rubyImportNames,
		BodyFields:   []string{"body"},
		CommentTypes: []string{"comment"},
	}
}

// rubyImportNames treats require and require_relative calls as imports.
func rubyImportNames(node *sitter.Node, source []byte) []string {
	if node.Type() != "call" {
		return nil
	}
	m := node.ChildByFieldName("method")
	if m == nil {
		return nil
	}
	switch NodeText(m, source) {
	case "require", "require_relative", "load":
	default:
		return nil
	}
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return []string{unquote(NodeText(args.NamedChild(0), source))}
}
