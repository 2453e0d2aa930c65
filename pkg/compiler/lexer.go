package compiler

import (
	"fmt"
	"strconv"
	"unicode"
)

// Lexer scans one token at a time; the parser drives it, so nothing is
// tokenized beyond the point the parse has reached. After Next returns,
// Tok holds the token kind and Val/FVal/Str/Sym hold its payload.
type Lexer struct {
	src   []rune
	pos   int // index of the next rune to consume
	line  int // current 1-based source line
	start int // index of the first rune of the current token

	table *SymbolTable

	Tok  TokenType
	Line int     // line the current token started on
	Val  int64   // NUM payload
	FVal float64 // FNUM payload
	Str  string  // STR payload, escapes resolved
	Sym  *Symbol // ID and keyword payload
}

func newLexer(src string, table *SymbolTable) *Lexer {
	return &Lexer{src: []rune(src), line: 1, table: table}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

// Text returns the raw source text of the current token.
func (l *Lexer) Text() string {
	return string(l.src[l.start:l.pos])
}

func (l *Lexer) fail(msg string) {
	panic(&CompileError{Kind: KindLexical, Line: l.line, Msg: msg})
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLine discards everything up to but not including end-of-line.
// Used for both "//" comments and "#" preprocessor lines, which this
// compiler does not interpret.
func (l *Lexer) skipLine() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing
// "*/". The opening "/*" must already have been consumed.
func (l *Lexer) skipBlockComment() {
	startLine := l.line
	for l.pos < len(l.src) {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance() // *
			l.advance() // /
			return
		}
		l.advance()
	}
	l.fail(fmt.Sprintf("unterminated block comment (opened on line %d)", startLine))
}

// Next scans one token into the lexer's public fields.
func (l *Lexer) Next() {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			l.start = l.pos
			l.Tok, l.Line = EOF, l.line
			return
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLine()
			continue
		}
		if l.peek() == '/' && l.peek2() == '*' {
			l.advance()
			l.advance()
			l.skipBlockComment()
			continue
		}
		if l.peek() == '#' {
			l.skipLine()
			continue
		}
		break
	}

	l.start = l.pos
	l.Line = l.line
	ch := l.peek()

	if unicode.IsLetter(ch) || ch == '_' {
		l.scanIdent()
		return
	}
	if unicode.IsDigit(ch) {
		l.scanNumber()
		return
	}
	if ch == '"' {
		l.scanString()
		return
	}
	if ch == '\'' {
		l.scanChar()
		return
	}

	l.advance()
	switch ch {
	case '{':
		l.Tok = LBRACE
	case '}':
		l.Tok = RBRACE
	case '(':
		l.Tok = LPAREN
	case ')':
		l.Tok = RPAREN
	case '[':
		l.Tok = BRAK
	case ']':
		l.Tok = RBRACKET
	case ';':
		l.Tok = SEMICOLON
	case ',':
		l.Tok = COMMA
	case ':':
		l.Tok = COLON
	case '?':
		l.Tok = COND
	case '~':
		l.Tok = TILDE
	case '^':
		l.Tok = XOR
	case '%':
		l.Tok = MOD
	case '*':
		l.Tok = MUL
	case '/':
		l.Tok = DIV
	case '+':
		l.Tok = ADD
		if l.peek() == '+' {
			l.advance()
			l.Tok = INC
		}
	case '-':
		l.Tok = SUB
		if l.peek() == '-' {
			l.advance()
			l.Tok = DEC
		}
	case '!':
		l.Tok = NOT
		if l.peek() == '=' {
			l.advance()
			l.Tok = NE
		}
	case '=':
		l.Tok = ASSIGN
		if l.peek() == '=' {
			l.advance()
			l.Tok = EQ
		}
	case '<':
		l.Tok = LT
		if l.peek() == '=' {
			l.advance()
			l.Tok = LE
		} else if l.peek() == '<' {
			l.advance()
			l.Tok = SHL
		}
	case '>':
		l.Tok = GT
		if l.peek() == '=' {
			l.advance()
			l.Tok = GE
		} else if l.peek() == '>' {
			l.advance()
			l.Tok = SHR
		}
	case '&':
		l.Tok = AND
		if l.peek() == '&' {
			l.advance()
			l.Tok = LAND
		}
	case '|':
		l.Tok = OR
		if l.peek() == '|' {
			l.advance()
			l.Tok = LOR
		}
	default:
		l.fail(fmt.Sprintf("unexpected character %q", ch))
	}
}

// scanIdent collects an identifier, interns it, and reports either ID
// or the keyword token the symbol table installed for the name.
func (l *Lexer) scanIdent() {
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	l.Sym = l.table.Intern(string(l.src[start:l.pos]))
	l.Tok = l.Sym.Tok
}

// scanNumber collects an integer or float literal. Integers may be
// decimal, hex with an 0x prefix, or octal with a leading 0; a decimal
// point followed by a digit switches to a float, with an optional
// exponent.
func (l *Lexer) scanNumber() {
	start := l.pos

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		l.advance()
		l.advance()
		digits := l.pos
		for isHexDigit(l.peek()) {
			l.advance()
		}
		if l.pos == digits {
			l.fail("malformed hex constant")
		}
		v, err := strconv.ParseUint(string(l.src[digits:l.pos]), 16, 64)
		if err != nil {
			l.fail("malformed hex constant")
		}
		l.Tok, l.Val = NUM, int64(v)
		return
	}

	for unicode.IsDigit(l.peek()) {
		l.advance()
	}

	if l.peek() == '.' && unicode.IsDigit(l.peek2()) {
		l.advance()
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
		if l.peek() == 'e' || l.peek() == 'E' {
			mark := l.pos
			l.advance()
			if l.peek() == '+' || l.peek() == '-' {
				l.advance()
			}
			if unicode.IsDigit(l.peek()) {
				for unicode.IsDigit(l.peek()) {
					l.advance()
				}
			} else {
				l.pos = mark // the e belongs to whatever follows
			}
		}
		f, err := strconv.ParseFloat(string(l.src[start:l.pos]), 64)
		if err != nil {
			l.fail("malformed float constant")
		}
		l.Tok, l.FVal = FNUM, f
		return
	}

	text := string(l.src[start:l.pos])
	var v int64
	var err error
	if len(text) > 1 && text[0] == '0' {
		v, err = strconv.ParseInt(text[1:], 8, 64)
	} else {
		v, err = strconv.ParseInt(text, 10, 64)
	}
	if err != nil {
		l.fail("malformed number " + text)
	}
	l.Tok, l.Val = NUM, v
}

// escape resolves the character after a backslash.
func (l *Lexer) escape() rune {
	switch r := l.advance(); r {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case '0':
		return 0
	case '\\', '\'', '"':
		return r
	default:
		l.fail(fmt.Sprintf("unknown escape sequence \\%c", r))
		return 0
	}
}

// scanChar collects a character literal 'c'. Character literals are
// ordinary NUM tokens carrying the character's value.
func (l *Lexer) scanChar() {
	l.advance() // consume opening '
	var val rune
	switch l.peek() {
	case '\'':
		l.fail("empty character literal")
	case '\n', 0:
		l.fail("unterminated character literal")
	case '\\':
		l.advance()
		val = l.escape()
	default:
		val = l.advance()
	}
	if l.peek() != '\'' {
		l.fail("unterminated character literal")
	}
	l.advance() // consume closing '
	l.Tok, l.Val = NUM, int64(val)
}

// scanString collects a string literal "..." into Str.
func (l *Lexer) scanString() {
	l.advance() // consume opening "
	var val []rune
	for {
		switch l.peek() {
		case '"':
			l.advance()
			l.Tok, l.Str = STR, string(val)
			return
		case '\n', 0:
			l.fail("unterminated string literal")
		case '\\':
			l.advance()
			val = append(val, l.escape())
		default:
			val = append(val, l.advance())
		}
	}
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Tokens scans src to completion and returns every token including the
// final EOF, for tooling that wants to inspect the stream.
func Tokens(src string) (toks []Token, err error) {
	defer trap(&err)
	l := newLexer(src, NewSymbolTable())
	for {
		l.Next()
		toks = append(toks, Token{Type: l.Tok, Lexeme: l.Text(), Line: l.Line})
		if l.Tok == EOF {
			return toks, nil
		}
	}
}
