// Package parser finds URL path template construction sites in source files
// and infers the HTTP method each one serves.
package parser

import (
	"sort"
	"strings"

	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/normalize"
)

// SiteKind identifies how a call site builds its path.
type SiteKind string

// Site kinds.
const (
	KindBuilder SiteKind = "builder"
	KindFormat  SiteKind = "format"
	KindFString SiteKind = "fstring"
	KindReplace SiteKind = "replace"
)

// CallSite is one template-construction expression found in a file.
type CallSite struct {
	Raw          string
	Placeholders []string
	StartLine    int
	EndLine      int
	Column       int // 1-based byte column where the expression starts
	Kind         SiteKind
}

// Syntax describes which expressions count as template construction.
type Syntax struct {
	// Builders are call names whose first argument is the path template.
	Builders []string `json:"builders" yaml:"builders"`
	// Format enables "literal".format(...) sites.
	Format bool `json:"format" yaml:"format"`
	// FStrings enables f"..." literals.
	FStrings bool `json:"fstrings" yaml:"fstrings"`
	// Replace enables literals followed by .replace(marker, value) chains.
	Replace bool `json:"replace" yaml:"replace"`
}

// DefaultSyntax returns the syntax of the scanned SDK.
func DefaultSyntax() Syntax {
	return Syntax{
		Builders: []string{"build_path"},
		Format:   true,
		FStrings: true,
		Replace:  true,
	}
}

// Keywords returns the substrings the scanner pre-filters files on. A file
// containing none of them cannot yield a call site.
func (s Syntax) Keywords() []string {
	var kw []string
	for _, b := range s.Builders {
		if b != "" {
			kw = append(kw, b)
		}
	}
	if s.Format {
		kw = append(kw, ".format(")
	}
	if s.Replace {
		kw = append(kw, ".replace(")
	}
	if s.FStrings {
		kw = append(kw, `f"`, `f'`, `F"`, `F'`)
	}
	return kw
}

// TemplateParser extracts path templates from source text. It holds no
// per-file state and is safe for concurrent use.
type TemplateParser struct {
	syntax   Syntax
	builders map[string]bool
}

// NewTemplateParser creates a parser for the given syntax.
func NewTemplateParser(syntax Syntax) *TemplateParser {
	builders := make(map[string]bool, len(syntax.Builders))
	for _, b := range syntax.Builders {
		// a dotted name matches on its last component
		if i := strings.LastIndex(b, "."); i >= 0 {
			b = b[i+1:]
		}
		if b != "" {
			builders[b] = true
		}
	}
	return &TemplateParser{syntax: syntax, builders: builders}
}

// Parse returns every call site in lines in source order. Sites that match
// the syntax but cannot be decomposed are returned as parse errors instead.
func (p *TemplateParser) Parse(path string, lines []string) ([]CallSite, []error) {
	src := strings.Join(lines, "\n")
	ps := &parseState{
		TemplateParser: p,
		path:           path,
		lx:             newLexer(src),
		lineStarts:     lineStarts(lines),
	}
	ps.run()
	return ps.sites, ps.drops
}

type parseState struct {
	*TemplateParser
	path       string
	lx         *lexer
	lineStarts []int
	sites      []CallSite
	drops      []error
}

func (ps *parseState) run() {
	lx := ps.lx
	for !lx.eof() {
		c := lx.peek()
		if _, ok := literalAt(lx.src, lx.pos); ok {
			ps.literalSite()
			continue
		}
		switch {
		case c == '#':
			lx.skipComment()
		case isIdentStart(c):
			start := lx.pos
			name := lx.readIdent()
			if !ps.builders[name] {
				continue
			}
			after := lx.pos
			lx.skipSpace()
			if lx.peek() != '(' {
				lx.pos = after
				continue
			}
			ps.builderSite(start)
		default:
			lx.pos++
		}
	}
}

// builderSite handles name( at lx.pos, where name started at start.
func (ps *parseState) builderSite(start int) {
	lx := ps.lx
	open := lx.pos
	lx.pos++
	lx.skipSpace()

	if _, ok := literalAt(lx.src, lx.pos); !ok {
		// dynamic first argument: not statically resolvable
		lx.pos = open
		ps.skipCall(open)
		return
	}

	raw, ok := ps.readLiterals()
	if !ok {
		ps.drop(start, "unterminated string literal")
		ps.skipCall(open)
		return
	}
	markers, reason := ps.chain()
	if reason == "" {
		reason = ps.argumentTail()
	}
	if reason != "" {
		ps.drop(start, reason)
		ps.skipCall(open)
		return
	}

	lx.pos = open
	if !lx.matchParen() {
		ps.drop(start, "unterminated call")
		lx.pos = open + 1
		return
	}
	more, reason := ps.chain()
	if reason != "" {
		ps.drop(start, reason)
		return
	}
	ps.emit(KindBuilder, raw, append(markers, more...), start, lx.pos)
}

// literalSite handles a literal at lx.pos that is not a builder argument.
func (ps *parseState) literalSite() {
	lx := ps.lx
	lit, ok := lx.readLiteral()
	if !ok {
		return
	}
	afterLit := lx.pos

	lx.skipSpace()
	if lx.peek() == '.' && pathLike(lit.Value) {
		lx.pos++
		name := lx.readIdent()
		lx.skipSpace()
		if lx.peek() == '(' && (name == "format" && ps.syntax.Format || name == "replace" && ps.syntax.Replace) {
			lx.pos = afterLit
			ps.chainSite(lit, name)
			return
		}
	}
	lx.pos = afterLit

	if ps.syntax.FStrings && lit.IsFormat() && pathLike(lit.Value) {
		ps.emit(KindFString, lit.Value, nil, lit.Start, lit.End)
	}
}

// chainSite handles a literal followed by .format or .replace.
func (ps *parseState) chainSite(lit literal, first string) {
	markers, reason := ps.chain()
	if reason != "" {
		ps.drop(lit.Start, reason)
		return
	}
	kind := KindReplace
	if first == "format" {
		kind = KindFormat
	}
	ps.emit(kind, lit.Value, markers, lit.Start, ps.lx.pos)
}

// readLiterals reads one literal plus any implicitly concatenated literals
// that follow it.
func (ps *parseState) readLiterals() (string, bool) {
	lx := ps.lx
	var b strings.Builder
	for {
		lit, ok := lx.readLiteral()
		if !ok {
			return "", false
		}
		b.WriteString(lit.Value)
		after := lx.pos
		lx.skipSpace()
		if _, more := literalAt(lx.src, lx.pos); !more {
			lx.pos = after
			return b.String(), true
		}
	}
}

// chain consumes .format(...) and .replace(marker, value) calls following
// lx.pos, returning the replace markers in order. A non-empty reason means
// the expression cannot be decomposed.
func (ps *parseState) chain() ([]string, string) {
	lx := ps.lx
	var markers []string
	for {
		save := lx.pos
		lx.skipSpace()
		if lx.peek() != '.' {
			lx.pos = save
			return markers, ""
		}
		lx.pos++
		name := lx.readIdent()
		lx.skipSpace()
		if lx.peek() != '(' {
			lx.pos = save
			return markers, ""
		}
		switch name {
		case "format":
			if !lx.matchParen() {
				return nil, "unterminated call"
			}
		case "replace":
			marker, reason := ps.replaceArgs()
			if reason != "" {
				return nil, reason
			}
			markers = append(markers, marker)
		default:
			lx.pos = save
			return markers, ""
		}
	}
}

// replaceArgs reads the marker of .replace( at lx.pos and skips the call.
func (ps *parseState) replaceArgs() (string, string) {
	lx := ps.lx
	open := lx.pos
	lx.pos++
	lx.skipSpace()
	if _, ok := literalAt(lx.src, lx.pos); !ok {
		lx.pos = open
		lx.matchParen()
		return "", "replace marker is not a string literal"
	}
	lit, ok := lx.readLiteral()
	if !ok {
		return "", "unterminated string literal"
	}
	if lit.Value == "" {
		lx.pos = open
		lx.matchParen()
		return "", "empty replace marker"
	}
	lx.pos = open
	if !lx.matchParen() {
		return "", "unterminated call"
	}
	return lit.Value, ""
}

// argumentTail checks what follows the template inside a builder call.
// Percent formatting keeps the literal intact; concatenation does not.
func (ps *parseState) argumentTail() string {
	lx := ps.lx
	lx.skipSpace()
	switch lx.peek() {
	case ',', ')':
		return ""
	case '%':
		return ""
	case '+':
		return "template concatenated with a dynamic expression"
	case 0:
		return "unterminated call"
	default:
		return "unsupported expression after template literal"
	}
}

// skipCall moves past the call opened at open, or one byte past it when the
// call never closes.
func (ps *parseState) skipCall(open int) {
	lx := ps.lx
	lx.pos = open
	if !lx.matchParen() {
		lx.pos = open + 1
	}
}

func (ps *parseState) emit(kind SiteKind, raw string, markers []string, start, end int) {
	if end > start {
		end--
	}
	ps.sites = append(ps.sites, CallSite{
		Raw:          raw,
		Placeholders: orderPlaceholders(raw, markers),
		StartLine:    ps.lineOf(start),
		EndLine:      ps.lineOf(end),
		Column:       ps.columnOf(start),
		Kind:         kind,
	})
}

func (ps *parseState) drop(offset int, reason string) {
	ps.drops = append(ps.drops, apperrors.NewParseError(ps.path, ps.lineOf(offset), reason))
}

// lineOf converts a byte offset into a 1-based line number.
func (ps *parseState) lineOf(offset int) int {
	return sort.Search(len(ps.lineStarts), func(i int) bool {
		return ps.lineStarts[i] > offset
	})
}

// columnOf converts a byte offset into a 1-based column on its line.
func (ps *parseState) columnOf(offset int) int {
	line := ps.lineOf(offset)
	if line == 0 {
		return offset + 1
	}
	return offset - ps.lineStarts[line-1] + 1
}

func lineStarts(lines []string) []int {
	starts := make([]int, len(lines))
	off := 0
	for i, l := range lines {
		starts[i] = off
		off += len(l) + 1
	}
	return starts
}

// orderPlaceholders merges built-in notations and replace markers by their
// position in raw. Markers absent from raw are not placeholders.
func orderPlaceholders(raw string, markers []string) []string {
	spans := normalize.PlaceholderSpans(raw)
	taken := make(map[int]bool, len(spans))
	for _, sp := range spans {
		taken[sp.Offset] = true
	}
	for _, m := range markers {
		off := strings.Index(raw, m)
		if off < 0 || taken[off] {
			continue
		}
		taken[off] = true
		spans = append(spans, normalize.Span{Token: m, Offset: off})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Offset < spans[j].Offset
	})
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, sp.Token)
	}
	return out
}

// pathLike filters literals that cannot be a request path.
func pathLike(s string) bool {
	return strings.Contains(s, "/") && !strings.ContainsAny(s, " \t\n")
}
