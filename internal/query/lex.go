package query

import "strings"

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokOpen
	tokClose
)

func (k tokenKind) String() string {
	switch k {
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokOpen:
		return "("
	case tokClose:
		return ")"
	}
	return "term"
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer splits a query string into terms, operators and parentheses.
//
// Whitespace separates terms except inside a span. Three spans exist, each
// opened only where a value may start (after a colon, or at the start of a
// term for phrases):
//
//	'exact'    closed by a quote followed by whitespace, ")" or the end
//	/regex/    closed by an unescaped slash
//	"phrase"   closed by the next double quote
//
// AND, OR and NOT are operators only as whole terms outside any span.
type lexer struct {
	src   string
	toks  []token
	cur   strings.Builder
	start int
	depth int
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src, start: -1}
	return l.run()
}

func (l *lexer) run() ([]token, error) {
	s := l.src
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isSpace(c):
			l.flush()
		case c == '(' && l.cur.Len() == 0:
			l.emit(tokOpen, "(", i)
			l.depth++
		case c == ')' && l.depth > 0:
			l.flush()
			l.emit(tokClose, ")", i)
			l.depth--
		case l.opens(c):
			end, err := l.span(i)
			if err != nil {
				return nil, err
			}
			i = end
		default:
			l.add(c, i)
		}
	}
	l.flush()
	return l.toks, nil
}

// opens reports whether c starts a span at the current term position.
func (l *lexer) opens(c byte) bool {
	prefix := l.cur.String()
	switch c {
	case '\'', '/':
		return strings.HasSuffix(prefix, ":")
	case '"':
		return prefix == "" || prefix == "-" || strings.HasSuffix(prefix, ":")
	}
	return false
}

// span consumes the span opened at i and returns the offset of its last
// byte.
func (l *lexer) span(i int) (int, error) {
	s := l.src
	open := s[i]
	l.add(open, i)
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		l.cur.WriteByte(c)
		switch open {
		case '/':
			if c == '\\' && j+1 < len(s) {
				j++
				l.cur.WriteByte(s[j])
				continue
			}
			if c == '/' {
				return j, nil
			}
		case '"':
			if c == '"' {
				return j, nil
			}
		case '\'':
			if c == '\'' && l.quoteEnds(j+1) {
				return j, nil
			}
		}
	}
	kind := map[byte]string{'\'': "quote", '"': "phrase", '/': "regex"}[open]
	return 0, invalid(s, i, "unterminated %s", kind)
}

func (l *lexer) quoteEnds(next int) bool {
	if next >= len(l.src) {
		return true
	}
	c := l.src[next]
	return isSpace(c) || (c == ')' && l.depth > 0)
}

func (l *lexer) add(c byte, pos int) {
	if l.cur.Len() == 0 {
		l.start = pos
	}
	l.cur.WriteByte(c)
}

func (l *lexer) flush() {
	if l.cur.Len() == 0 {
		return
	}
	text := l.cur.String()
	l.cur.Reset()
	kind := tokTerm
	switch text {
	case "AND":
		kind = tokAnd
	case "OR":
		kind = tokOr
	case "NOT":
		kind = tokNot
	}
	l.emit(kind, text, l.start)
}

func (l *lexer) emit(kind tokenKind, text string, pos int) {
	l.toks = append(l.toks, token{kind: kind, text: text, pos: pos})
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
