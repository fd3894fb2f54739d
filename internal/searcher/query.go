package searcher

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidQuery is returned for queries that do not parse
var ErrInvalidQuery = errors.New("invalid query")

// Node is a node of a boolean query tree. Similarity values combine as
// fuzzy logic: And takes the minimum, Or the maximum and Not the complement.
type Node interface {
	// similarity evaluates the node given the similarity of each text leaf
	similarity(leaf func(text string) float64) float64
	// texts appends the leaf texts, marking those under an odd number of Nots
	texts(negated bool, out *[]leafText)
	String() string
}

type leafText struct {
	text    string
	negated bool
}

// Text is a leaf matched by embedding similarity
type Text struct {
	Text string
}

// And matches when all arguments match
type And struct {
	Args []Node
}

// Or matches when any argument matches
type Or struct {
	Args []Node
}

// Not inverts its argument
type Not struct {
	Arg Node
}

func (t *Text) similarity(leaf func(string) float64) float64 {
	return leaf(t.Text)
}

func (t *Text) texts(negated bool, out *[]leafText) {
	*out = append(*out, leafText{text: t.Text, negated: negated})
}

func (t *Text) String() string {
	return fmt.Sprintf("%q", t.Text)
}

func (a *And) similarity(leaf func(string) float64) float64 {
	result := a.Args[0].similarity(leaf)
	for _, arg := range a.Args[1:] {
		if v := arg.similarity(leaf); v < result {
			result = v
		}
	}
	return result
}

func (a *And) texts(negated bool, out *[]leafText) {
	for _, arg := range a.Args {
		arg.texts(negated, out)
	}
}

func (a *And) String() string {
	return joinNodes("AND", a.Args)
}

func (o *Or) similarity(leaf func(string) float64) float64 {
	result := o.Args[0].similarity(leaf)
	for _, arg := range o.Args[1:] {
		if v := arg.similarity(leaf); v > result {
			result = v
		}
	}
	return result
}

func (o *Or) texts(negated bool, out *[]leafText) {
	for _, arg := range o.Args {
		arg.texts(negated, out)
	}
}

func (o *Or) String() string {
	return joinNodes("OR", o.Args)
}

func (n *Not) similarity(leaf func(string) float64) float64 {
	return 1 - n.Arg.similarity(leaf)
}

func (n *Not) texts(negated bool, out *[]leafText) {
	n.Arg.texts(!negated, out)
}

func (n *Not) String() string {
	return "(NOT " + n.Arg.String() + ")"
}

func joinNodes(op string, args []Node) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// Texts returns the distinct leaf texts of a query tree in order
func Texts(node Node) []string {
	var leaves []leafText
	node.texts(false, &leaves)
	seen := make(map[string]bool, len(leaves))
	out := make([]string, 0, len(leaves))
	for _, l := range leaves {
		if !seen[l.text] {
			seen[l.text] = true
			out = append(out, l.text)
		}
	}
	return out
}

// positiveTexts returns the leaf texts that are not negated
func positiveTexts(node Node) []string {
	var leaves []leafText
	node.texts(false, &leaves)
	out := make([]string, 0, len(leaves))
	for _, l := range leaves {
		if !l.negated {
			out = append(out, l.text)
		}
	}
	return out
}

// ParseQuery parses query text into a boolean tree. AND, OR and NOT are
// operators only in upper case; parentheses group; double quotes make a
// literal phrase. Adjacent words form one text phrase, so plain text is a
// single Text node. Adjacent groups without an operator are joined with AND.
//
//	checkout and balance              -> "checkout and balance"
//	checkout AND NOT (tests OR mocks) -> ("checkout" AND (NOT ("tests" OR "mocks")))
func ParseQuery(query string) (Node, error) {
	tokens, err := tokenize(query)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}

	p := &queryParser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidQuery, p.peek().text)
	}
	return node, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(query string) ([]token, error) {
	var tokens []token
	runes := []rune(query)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokClose, text: ")"})
			i++
		case r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			if end == len(runes) {
				return nil, fmt.Errorf("%w: unterminated quote", ErrInvalidQuery)
			}
			if phrase := strings.TrimSpace(string(runes[i+1 : end])); phrase != "" {
				tokens = append(tokens, token{kind: tokWord, text: phrase})
			}
			i = end + 1
		default:
			end := i
			for end < len(runes) && !unicode.IsSpace(runes[end]) && runes[end] != '(' && runes[end] != ')' && runes[end] != '"' {
				end++
			}
			word := string(runes[i:end])
			switch word {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd, text: word})
			case "OR":
				tokens = append(tokens, token{kind: tokOr, text: word})
			case "NOT":
				tokens = append(tokens, token{kind: tokNot, text: word})
			default:
				tokens = append(tokens, token{kind: tokWord, text: word})
			}
			i = end
		}
	}
	return tokens, nil
}

type queryParser struct {
	tokens []token
	pos    int
}

func (p *queryParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *queryParser) peek() token {
	return p.tokens[p.pos]
}

func (p *queryParser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	args := []Node{first}
	for !p.done() && p.peek().kind == tokOr {
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		args = append(args, next)
	}
	if len(args) == 1 {
		return first, nil
	}
	return &Or{Args: args}, nil
}

func (p *queryParser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	args := []Node{first}
loop:
	for !p.done() {
		switch p.peek().kind {
		case tokAnd:
			p.pos++
		case tokWord, tokNot, tokOpen:
			// implicit AND
		default:
			break loop
		}
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		args = append(args, next)
	}
	if len(args) == 1 {
		return first, nil
	}
	return &And{Args: args}, nil
}

func (p *queryParser) parseUnary() (Node, error) {
	if p.done() {
		return nil, fmt.Errorf("%w: unexpected end of query", ErrInvalidQuery)
	}
	tok := p.peek()
	switch tok.kind {
	case tokNot:
		p.pos++
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Arg: arg}, nil
	case tokOpen:
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().kind != tokClose {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidQuery)
		}
		p.pos++
		return node, nil
	case tokWord:
		words := []string{}
		for !p.done() && p.peek().kind == tokWord {
			words = append(words, p.peek().text)
			p.pos++
		}
		return &Text{Text: strings.Join(words, " ")}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidQuery, tok.text)
	}
}
