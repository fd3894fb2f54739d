package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codemorph/internal/parser"
	"github.com/dshills/codemorph/pkg/types"
)

const accountPy = `"""Billing module."""
import os
from billing.ledger import post


class Account:
    """An account."""

    def get_balance(self):
        return self.total()

    def total(self):
        return post(1)


def checkout():
    acct = Account()
    return acct.get_balance()
`

func extract(t *testing.T, path, content string) *types.ExtractResult {
	t.Helper()
	tree, err := parser.New().Parse(context.Background(), path, []byte(content), "")
	require.NoError(t, err)
	defer tree.Close()

	result, err := New().Extract(tree, types.SourceFile{Path: path})
	require.NoError(t, err)
	return result
}

func byQualified(r *types.ExtractResult) map[string]types.Symbol {
	m := make(map[string]types.Symbol, len(r.Symbols))
	for _, s := range r.Symbols {
		m[s.QualifiedName] = s
	}
	return m
}

func hasEdge(edges []types.Edge, want types.Edge) bool {
	for _, e := range edges {
		if e == want {
			return true
		}
	}
	return false
}

func TestExtract_Python(t *testing.T) {
	r := extract(t, "billing/account.py", accountPy)

	require.Len(t, r.Symbols, 5)
	assert.Equal(t, "python", r.File.Language)

	names := make([]string, len(r.Symbols))
	for i, s := range r.Symbols {
		names[i] = s.QualifiedName
		assert.NoError(t, s.Validate(), s.QualifiedName)
		assert.Len(t, s.ID, 2*IDBytes)
	}
	assert.Equal(t, []string{"account", "Account", "Account.get_balance", "Account.total", "checkout"}, names)

	syms := byQualified(r)
	module := syms["account"]
	assert.Equal(t, types.KindModule, module.Kind)
	assert.Equal(t, "Billing module.", module.Doc)
	assert.Equal(t, 0, module.Span.StartByte)
	assert.Equal(t, len(accountPy), module.Span.EndByte)
	assert.Empty(t, module.ParentID)
	assert.Equal(t, "billing/account.py#account", module.URI())

	class := syms["Account"]
	assert.Equal(t, types.KindClass, class.Kind)
	assert.Equal(t, "An account.", class.Doc)
	assert.Equal(t, "class Account:", class.Signature)
	assert.Equal(t, module.ID, class.ParentID)
	assert.Equal(t, 6, class.Span.StartLine)

	method := syms["Account.get_balance"]
	assert.Equal(t, types.KindMethod, method.Kind)
	assert.Equal(t, "get_balance", method.Name)
	assert.Equal(t, "def get_balance(self):", method.Signature)
	assert.Equal(t, class.ID, method.ParentID)
	assert.Equal(t, 9, method.Span.StartLine)
	assert.Equal(t, 10, method.Span.EndLine)
	assert.Equal(t, "billing/account.py#Account.get_balance", method.URI())

	fn := syms["checkout"]
	assert.Equal(t, types.KindFunction, fn.Kind)
	assert.True(t, strings.HasPrefix(accountPy[fn.Span.StartByte:fn.Span.EndByte], "def checkout():"))

	assert.Equal(t, []string{"os", "billing.ledger"}, r.Imports)
}

func TestExtract_PythonEdges(t *testing.T) {
	r := extract(t, "billing/account.py", accountPy)
	syms := byQualified(r)

	module := syms["account"].ID
	class := syms["Account"].ID
	getBalance := syms["Account.get_balance"].ID
	total := syms["Account.total"].ID
	checkout := syms["checkout"].ID

	expected := []types.Edge{
		{Source: module, Kind: types.EdgeContains, Target: class},
		{Source: class, Kind: types.EdgeContains, Target: getBalance},
		{Source: class, Kind: types.EdgeContains, Target: total},
		{Source: module, Kind: types.EdgeContains, Target: checkout},
		{Source: module, Kind: types.EdgeImports, TargetName: "os"},
		{Source: module, Kind: types.EdgeImports, TargetName: "billing.ledger"},
		// self.total() resolves through the enclosing class scope
		{Source: getBalance, Kind: types.EdgeCalls, Target: total},
		{Source: checkout, Kind: types.EdgeCalls, Target: class},
		// not visible from checkout's scope, kept by name
		{Source: checkout, Kind: types.EdgeCalls, TargetName: "get_balance"},
		{Source: total, Kind: types.EdgeCalls, TargetName: "post"},
	}
	for _, e := range expected {
		assert.True(t, hasEdge(r.Edges, e), "missing edge %+v", e)
	}
	assert.Len(t, r.Edges, len(expected))

	assert.IsIncreasing(t, edgeKeys(r.Edges))
}

func edgeKeys(edges []types.Edge) []string {
	keys := make([]string, len(edges))
	for i, e := range edges {
		keys[i] = e.Source + "\x00" + string(e.Kind) + "\x00" + e.Target + "\x00" + e.TargetName
	}
	return keys
}

func TestExtract_Deterministic(t *testing.T) {
	first := extract(t, "billing/account.py", accountPy)
	for i := 0; i < 3; i++ {
		again := extract(t, "billing/account.py", accountPy)
		assert.Equal(t, first.Symbols, again.Symbols)
		assert.Equal(t, first.Edges, again.Edges)
	}
}

func TestExtract_StableIDsAcrossEdits(t *testing.T) {
	before := byQualified(extract(t, "billing/account.py", accountPy))

	edited := strings.Replace(accountPy, "return acct.get_balance()", "return acct.get_balance() + 1", 1)
	after := byQualified(extract(t, "billing/account.py", edited))

	assert.Equal(t, before["Account"].ID, after["Account"].ID)
	assert.Equal(t, before["Account.get_balance"].ID, after["Account.get_balance"].ID)
	assert.Equal(t, before["Account.total"].ID, after["Account.total"].ID)

	assert.NotEqual(t, before["checkout"].ID, after["checkout"].ID)
	assert.NotEqual(t, before["account"].ID, after["account"].ID)
}

func TestExtract_SameNameSiblings(t *testing.T) {
	src := "def f():\n    return 1\n\ndef f():\n    return 1\n"
	r := extract(t, "dup.py", src)

	require.Len(t, r.Symbols, 3)
	assert.Equal(t, "f", r.Symbols[1].Name)
	assert.Equal(t, "f", r.Symbols[2].Name)
	assert.Equal(t, r.Symbols[1].ContentHash, r.Symbols[2].ContentHash)
	assert.NotEqual(t, r.Symbols[1].ID, r.Symbols[2].ID)
}

func TestExtract_IDDependsOnPath(t *testing.T) {
	a := extract(t, "a.py", "def f():\n    pass\n")
	b := extract(t, "b.py", "def f():\n    pass\n")
	assert.NotEqual(t, a.Symbols[1].ID, b.Symbols[1].ID)
}

func TestExtract_Go(t *testing.T) {
	src := `// Package users manages users.
package users

import (
	"fmt"
	"strings"
)

// User represents a user.
type User struct {
	Name string
}

// GetName returns the user's name.
func (u *User) GetName() string {
	return strings.TrimSpace(u.Name)
}

func Describe(u *User) string {
	return fmt.Sprintf("%s", u.GetName())
}
`
	r := extract(t, "users/user.go", src)
	syms := byQualified(r)

	assert.Equal(t, "Package users manages users.", syms["user"].Doc)

	user := syms["User"]
	assert.Equal(t, types.KindClass, user.Kind)
	assert.Equal(t, "User represents a user.", user.Doc)

	getName := syms["User.GetName"]
	assert.Equal(t, types.KindMethod, getName.Kind)
	assert.Equal(t, "GetName returns the user's name.", getName.Doc)
	assert.Equal(t, "func (u *User) GetName() string", getName.Signature)

	describe := syms["Describe"]
	assert.Equal(t, types.KindFunction, describe.Kind)
	assert.Empty(t, describe.Doc)

	assert.Equal(t, []string{"fmt", "strings"}, r.Imports)
	assert.True(t, hasEdge(r.Edges, types.Edge{Source: describe.ID, Kind: types.EdgeCalls, TargetName: "Sprintf"}))
}

func TestExtract_JavaScript(t *testing.T) {
	src := `import { post } from "./ledger";

class Cart {
  total() {
    return post(1);
  }
}

const checkout = (cart) => {
  return cart.total();
};

const limit = 10;
`
	r := extract(t, "shop/cart.js", src)
	syms := byQualified(r)

	assert.Equal(t, types.KindClass, syms["Cart"].Kind)
	assert.Equal(t, types.KindMethod, syms["Cart.total"].Kind)
	assert.Equal(t, types.KindFunction, syms["checkout"].Kind)
	assert.Equal(t, "checkout = (cart) =>", syms["checkout"].Signature)

	_, ok := syms["limit"]
	assert.False(t, ok, "non-function bindings are not symbols")

	assert.Equal(t, []string{"./ledger"}, r.Imports)
}

func TestExtract_NilTree(t *testing.T) {
	_, err := New().Extract(nil, types.SourceFile{Path: "a.py"})
	assert.ErrorIs(t, err, ErrNilTree)
}

func TestModulePath(t *testing.T) {
	assert.Equal(t, "billing.account", ModulePath("billing/account.py"))
	assert.Equal(t, "a", ModulePath("a.py"))
}

func TestCleanComment(t *testing.T) {
	assert.Equal(t, "hello\nworld", cleanComment("/**\n * hello\n * world\n */"))
	assert.Equal(t, "note", cleanComment("# note"))
}
