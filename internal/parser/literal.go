package parser

import "strings"

// literal is one string literal token found in source text.
type literal struct {
	Prefix string // lower-cased prefix letters, e.g. "f", "rb"
	Value  string // text between the quotes, escapes kept verbatim
	Start  int    // offset of the first prefix letter or quote
	End    int    // offset just past the closing quote
}

// IsFormat reports whether the literal interpolates expressions itself.
func (l literal) IsFormat() bool {
	return strings.Contains(l.Prefix, "f")
}

// lexer walks source text skipping strings and comments, so keyword
// searches never fire inside them.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (lx *lexer) eof() bool {
	return lx.pos >= len(lx.src)
}

func (lx *lexer) peek() byte {
	if lx.eof() {
		return 0
	}
	return lx.src[lx.pos]
}

// skipSpace advances over whitespace, newlines, line continuations and
// comments.
func (lx *lexer) skipSpace() {
	for !lx.eof() {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			lx.pos++
		case c == '\\' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '\n':
			lx.pos += 2
		case c == '#':
			lx.skipComment()
		default:
			return
		}
	}
}

func (lx *lexer) skipComment() {
	if i := strings.IndexByte(lx.src[lx.pos:], '\n'); i >= 0 {
		lx.pos += i
		return
	}
	lx.pos = len(lx.src)
}

// literalAt reports whether a string literal (with optional prefix) starts
// at pos, returning the prefix length.
func literalAt(src string, pos int) (int, bool) {
	n := 0
	for n < 3 && pos+n < len(src) && isPrefixLetter(src[pos+n]) {
		n++
	}
	if pos+n >= len(src) || !isQuote(src[pos+n]) {
		return 0, false
	}
	if n > 0 && pos > 0 && isIdentByte(src[pos-1]) {
		return 0, false
	}
	if n > 0 && !validPrefix(strings.ToLower(src[pos:pos+n])) {
		return 0, false
	}
	return n, true
}

// readLiteral reads the literal starting at lx.pos. ok is false when the
// literal is not terminated.
func (lx *lexer) readLiteral() (literal, bool) {
	start := lx.pos
	n, isLit := literalAt(lx.src, lx.pos)
	if !isLit {
		return literal{}, false
	}
	prefix := strings.ToLower(lx.src[start : start+n])
	lx.pos += n

	q := lx.src[lx.pos]
	triple := strings.HasPrefix(lx.src[lx.pos:], strings.Repeat(string(q), 3))
	delim := string(q)
	if triple {
		delim = strings.Repeat(string(q), 3)
	}
	lx.pos += len(delim)
	bodyStart := lx.pos

	for !lx.eof() {
		c := lx.src[lx.pos]
		switch {
		case c == '\\':
			lx.pos += 2
			continue
		case c == '\n' && !triple:
			return literal{Prefix: prefix, Start: start}, false
		case strings.HasPrefix(lx.src[lx.pos:], delim):
			lit := literal{
				Prefix: prefix,
				Value:  lx.src[bodyStart:lx.pos],
				Start:  start,
				End:    lx.pos + len(delim),
			}
			lx.pos = lit.End
			return lit, true
		}
		lx.pos++
	}
	if lx.pos > len(lx.src) {
		lx.pos = len(lx.src)
	}
	return literal{Prefix: prefix, Start: start}, false
}

// skipLiteral steps over a literal, or to the end of the line when it is
// unterminated.
func (lx *lexer) skipLiteral() {
	start := lx.pos
	if _, ok := lx.readLiteral(); !ok && lx.pos <= start {
		lx.pos = start + 1
	}
}

// readIdent reads an identifier at lx.pos.
func (lx *lexer) readIdent() string {
	start := lx.pos
	for !lx.eof() && isIdentByte(lx.src[lx.pos]) {
		lx.pos++
	}
	return lx.src[start:lx.pos]
}

// matchParen advances past the parenthesis matching the '(' at lx.pos.
// Strings and comments inside are skipped. ok is false at end of input.
func (lx *lexer) matchParen() bool {
	depth := 0
	for !lx.eof() {
		c := lx.src[lx.pos]
		if _, isLit := literalAt(lx.src, lx.pos); isLit {
			if _, ok := lx.readLiteral(); !ok {
				return false
			}
			continue
		}
		switch c {
		case '#':
			lx.skipComment()
			continue
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				lx.pos++
				return true
			}
		}
		lx.pos++
	}
	return false
}

func isQuote(c byte) bool {
	return c == '"' || c == '\''
}

func isPrefixLetter(c byte) bool {
	switch c {
	case 'r', 'R', 'f', 'F', 'b', 'B', 'u', 'U':
		return true
	}
	return false
}

func validPrefix(p string) bool {
	switch p {
	case "r", "f", "b", "u", "rf", "fr", "rb", "br":
		return true
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
