package searcher

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"github.com/dshills/codemorph/pkg/types"
)

// Format selects how results are printed
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatText     Format = "text"
)

// ParseFormat converts a flag value into a Format
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatMarkdown, FormatJSON, FormatText:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "plain":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// ResultView is the serialized form of one search result
type ResultView struct {
	Rank          int     `json:"rank"`
	Score         float64 `json:"score"`
	Similarity    float64 `json:"similarity"`
	TextMatch     float64 `json:"text_match"`
	Proximity     float64 `json:"proximity"`
	ID            string  `json:"id"`
	URI           string  `json:"uri"`
	Kind          string  `json:"kind"`
	Name          string  `json:"name"`
	QualifiedName string  `json:"qualified_name"`
	Path          string  `json:"path"`
	Language      string  `json:"language"`
	StartLine     int     `json:"start_line"`
	EndLine       int     `json:"end_line"`
	Signature     string  `json:"signature,omitempty"`
	Doc           string  `json:"doc,omitempty"`
	Content       string  `json:"content,omitempty"`
}

// ResponseView is the serialized form of a search response
type ResponseView struct {
	Query      string       `json:"query"`
	Total      int          `json:"total"`
	Candidates int          `json:"candidates"`
	Generation int64        `json:"generation"`
	DurationMS int64        `json:"duration_ms"`
	Results    []ResultView `json:"results"`
}

// NewResultView converts a search result for serialization
func NewResultView(r types.SearchResult) ResultView {
	sym := r.Symbol
	return ResultView{
		Rank:          r.Rank,
		Score:         r.Score,
		Similarity:    r.Similarity,
		TextMatch:     r.TextMatch,
		Proximity:     r.Proximity,
		ID:            sym.ID,
		URI:           sym.URI(),
		Kind:          string(sym.Kind),
		Name:          sym.Name,
		QualifiedName: sym.QualifiedName,
		Path:          sym.Path,
		Language:      sym.Language,
		StartLine:     sym.Span.StartLine,
		EndLine:       sym.Span.EndLine,
		Signature:     sym.Signature,
		Doc:           sym.Doc,
		Content:       r.Content,
	}
}

// View converts the response for serialization
func (r *SearchResponse) View() ResponseView {
	view := ResponseView{
		Query:      r.Query,
		Total:      r.Total,
		Candidates: r.Candidates,
		Generation: r.Generation,
		DurationMS: r.Duration.Milliseconds(),
		Results:    make([]ResultView, len(r.Results)),
	}
	for i, res := range r.Results {
		view.Results[i] = NewResultView(res)
	}
	return view
}

// Markdown renders the response as a markdown document. Result links point
// into root.
func Markdown(resp *SearchResponse, root string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Morph Code Index\n\nDisplaying top **%d** out of **%d** code objects for:\n\n'%s'\n\n---\n",
		len(resp.Results), resp.Total, resp.Query)

	for i, r := range resp.Results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		sym := r.Symbol
		fmt.Fprintf(&b, "\n[%.4f] [%s](%s) lines %d-%d\n\n",
			r.Score, sym.URI(), filepath.ToSlash(filepath.Join(root, sym.Path)), sym.Span.StartLine, sym.Span.EndLine)
		fence := "```"
		for strings.Contains(r.Content, fence) {
			fence += "`"
		}
		fmt.Fprintf(&b, "%s%s\n%s\n%s\n", fence, sym.Language, strings.TrimRight(r.Content, "\n"), fence)
	}
	return b.String()
}

// WriteJSON writes the response as indented JSON
func WriteJSON(w io.Writer, resp *SearchResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.View())
}

// WriteText writes one block per result. color enables chroma highlighting.
func WriteText(w io.Writer, resp *SearchResponse, color bool) error {
	if len(resp.Results) == 0 {
		_, err := fmt.Fprintf(w, "no results for %q (%d code objects indexed)\n", resp.Query, resp.Total)
		return err
	}
	for _, r := range resp.Results {
		sym := r.Symbol
		if _, err := fmt.Fprintf(w, "%.4f  %s  %s:%d-%d\n", r.Score, sym.URI(), sym.Path, sym.Span.StartLine, sym.Span.EndLine); err != nil {
			return err
		}
		code := strings.TrimRight(r.Content, "\n")
		if color {
			code = Highlight(code, sym.Language)
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", code); err != nil {
			return err
		}
	}
	return nil
}

// Write prints resp in format. On a terminal, markdown is rendered with
// glamour and text is highlighted.
func Write(w io.Writer, resp *SearchResponse, format Format, root string, tty bool) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, resp)
	case FormatText:
		return WriteText(w, resp, tty)
	default:
		md := Markdown(resp, root)
		if tty {
			md = renderMarkdown(md)
		}
		_, err := io.WriteString(w, md)
		return err
	}
}

// IsTerminal reports whether fd is a terminal
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderMarkdown returns md unchanged when rendering fails
func renderMarkdown(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return rendered
}

// Highlight colors code for a 256-color terminal, returning it unchanged on failure
func Highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
