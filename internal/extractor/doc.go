// Package extractor walks tree-sitter syntax trees and produces symbols and
// edges for one file.
//
// Every file yields a module symbol spanning the whole file. Declarations
// mapped by the language registry become class, function, method or block
// symbols; a function declared directly in a class is a method. Each symbol
// carries its byte and line span, the SHA-256 of its span text, the
// declaration text without body and its docstring.
//
// # Stable IDs
//
// A symbol id is the first 16 bytes of SHA-256 over the file path, the path in
// the tree (scope names plus an ordinal among same-named siblings) and the
// span content hash, hex encoded. Unchanged code keeps its id when the file
// is re-indexed; editing a function changes its id and the ids of the
// symbols enclosing it.
//
// # Edges
//
//   - contains: parent to child, from nesting
//   - calls: callee names resolved innermost scope first within the file;
//     unresolved names are kept as Edge.TargetName for resolution across
//     files through imports
//   - imports: module symbol to imported module name
//
// Symbols are emitted in tree pre-order and edges are sorted, so identical
// input always gives identical output.
package extractor
