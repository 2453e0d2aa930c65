package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
//
// Everything from ASSIGN onward is an operator that can appear after a
// unary expression, and the numeric order of that block is precedence,
// lowest first. The expression parser climbs by comparing the current
// token against a precedence floor, so the order is load-bearing.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	NUM  // integer or character literal
	FNUM // floating-point literal
	STR  // string literal "..."
	ID   // variable / function name

	// Keywords
	CHAR   // "char" (also "void", which aliases to it)
	ELSE   // "else"
	ENUM   // "enum"
	FLOAT  // "float"
	IF     // "if"
	INT    // "int"
	RETURN // "return"
	SIZEOF // "sizeof"
	WHILE  // "while"

	// Punctuation and unary-only operators
	LBRACE    // {
	RBRACE    // }
	LPAREN    // (
	RPAREN    // )
	RBRACKET  // ]
	SEMICOLON // ;
	COMMA     // ,
	COLON     // :
	NOT       // !
	TILDE     // ~

	// Operators, in precedence order
	ASSIGN // =
	COND   // ?
	LOR    // ||
	LAND   // &&
	OR     // |
	XOR    // ^
	AND    // & (binary bitwise AND, or unary address-of)
	EQ     // ==
	NE     // !=
	LT     // <
	GT     // >
	LE     // <=
	GE     // >=
	SHL    // <<
	SHR    // >>
	ADD    // + (binary or unary)
	SUB    // - (binary or unary)
	MUL    // * (binary multiply, or unary dereference)
	DIV    // /
	MOD    // %
	INC    // ++
	DEC    // --
	BRAK   // [ (array subscript)
)

var tokenNames = [...]string{
	EOF:       "EOF",
	NUM:       "NUM",
	FNUM:      "FNUM",
	STR:       "STR",
	ID:        "ID",
	CHAR:      "CHAR",
	ELSE:      "ELSE",
	ENUM:      "ENUM",
	FLOAT:     "FLOAT",
	IF:        "IF",
	INT:       "INT",
	RETURN:    "RETURN",
	SIZEOF:    "SIZEOF",
	WHILE:     "WHILE",
	LBRACE:    "LBRACE",
	RBRACE:    "RBRACE",
	LPAREN:    "LPAREN",
	RPAREN:    "RPAREN",
	RBRACKET:  "RBRACKET",
	SEMICOLON: "SEMICOLON",
	COMMA:     "COMMA",
	COLON:     "COLON",
	NOT:       "NOT",
	TILDE:     "TILDE",
	ASSIGN:    "ASSIGN",
	COND:      "COND",
	LOR:       "LOR",
	LAND:      "LAND",
	OR:        "OR",
	XOR:       "XOR",
	AND:       "AND",
	EQ:        "EQ",
	NE:        "NE",
	LT:        "LT",
	GT:        "GT",
	LE:        "LE",
	GE:        "GE",
	SHL:       "SHL",
	SHR:       "SHR",
	ADD:       "ADD",
	SUB:       "SUB",
	MUL:       "MUL",
	DIV:       "DIV",
	MOD:       "MOD",
	INC:       "INC",
	DEC:       "DEC",
	BRAK:      "BRAK",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit as reported by Tokens. The compiler
// proper consumes the lexer incrementally and never materializes these;
// they exist for tooling that wants to inspect the stream.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
