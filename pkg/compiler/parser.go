package compiler

import (
	"math"

	"goc4/pkg/vm"
)

// Parser drives the lexer and emits stack machine code as it goes.
// There is no syntax tree: every construct compiles to instructions the
// moment it is recognized, and forward branch targets are backpatched
// when the parse reaches them.
//
// Grammar (the c4 subset, plus float):
//
//	program     = declaration* EOF
//	declaration = enumDecl | varDecl | funcDecl
//	enumDecl    = "enum" ID? "{" (ID ("=" NUM)?)* "}" ";"
//	varDecl     = type "*"* ID ("=" initializer)? ("," "*"* ID ...)* ";"
//	funcDecl    = type "*"* ID "(" params ")" "{" localDecl* stmt* "}"
//	type        = "int" | "char" | "float" | "void" | "enum"
//	stmt        = "if" "(" expr ")" stmt ("else" stmt)?
//	            | "while" "(" expr ")" stmt
//	            | "return" expr? ";"
//	            | "{" stmt* "}"
//	            | ";"
//	            | expr ";"
//
// Expressions are compiled by expr with c4-style precedence climbing;
// see token.go for the operator order.
type Parser struct {
	lex  *Lexer
	syms *SymbolTable

	code      []vm.Instruction
	data      []byte
	srcMap    map[int]int
	jumpSites []int

	tok TokenType // current token, mirrored from the lexer
	ty  Type      // type of the last compiled expression
}

func newParser(src string) *Parser {
	syms := NewSymbolTable()
	return &Parser{
		lex:    newLexer(src, syms),
		syms:   syms,
		srcMap: make(map[int]int),
	}
}

func (p *Parser) next() {
	p.lex.Next()
	p.tok = p.lex.Tok
}

func (p *Parser) fail(msg string) {
	panic(&CompileError{Kind: KindSyntax, Line: p.lex.Line, Msg: msg})
}

// expect consumes the current token if it matches t, otherwise fails
// with msg.
func (p *Parser) expect(t TokenType, msg string) {
	if p.tok != t {
		p.fail(msg)
	}
	p.next()
}

// program compiles the whole translation unit.
func (p *Parser) program() {
	p.next()
	for p.tok != EOF {
		p.declaration()
	}
}

// finish resolves the entry point and packages the result.
func (p *Parser) finish() *vm.Program {
	m := p.syms.Lookup("main")
	if m == nil || m.Class != ClassFun {
		p.fail("main() not defined")
	}
	return &vm.Program{
		Code:      p.code,
		Data:      p.data,
		Entry:     int(m.Val),
		SourceMap: p.srcMap,
	}
}

// declaration compiles one top-level enum, variable list, or function.
func (p *Parser) declaration() {
	bt := TypeInt
	switch p.tok {
	case INT:
		p.next()
	case CHAR:
		p.next()
		bt = TypeChar
	case FLOAT:
		p.next()
		bt = TypeFloat
	case ENUM:
		p.next()
		if p.tok != LBRACE {
			p.next() // enum tag, carries no meaning
		}
		if p.tok == LBRACE {
			p.next()
			p.enumBody()
		}
	}

	for p.tok != SEMICOLON && p.tok != RBRACE {
		ty := bt
		for p.tok == MUL {
			if ty == TypeFloat {
				p.fail("pointer to float is not allowed")
			}
			p.next()
			ty += TypePtr
		}
		if p.tok != ID {
			p.fail("bad global declaration")
		}
		d := p.lex.Sym
		if d.Class != ClassNone {
			p.fail("duplicate global definition of " + d.Name)
		}
		p.next()
		d.Type = ty
		if p.tok == LPAREN {
			p.function(d)
			break // the loop's trailing next eats the body's closing brace
		}
		p.global(d)
		if p.tok == COMMA {
			p.next()
		}
	}
	p.next()
}

// enumBody compiles the members between the braces of an enum. Members
// become integer constants, counting up from zero or from the last
// explicit initializer.
func (p *Parser) enumBody() {
	v := int64(0)
	for p.tok != RBRACE {
		if p.tok != ID {
			p.fail("bad enum identifier")
		}
		d := p.lex.Sym
		p.next()
		if p.tok == ASSIGN {
			p.next()
			neg := false
			if p.tok == SUB {
				neg = true
				p.next()
			}
			if p.tok != NUM {
				p.fail("bad enum initializer")
			}
			v = p.lex.Val
			if neg {
				v = -v
			}
			p.next()
		}
		if d.Class != ClassNone {
			p.fail("duplicate global definition of " + d.Name)
		}
		d.Class = ClassNum
		d.Type = TypeInt
		d.Val = v
		v++
		if p.tok == COMMA {
			p.next()
		} else if p.tok != RBRACE {
			p.fail("bad enum definition")
		}
	}
	p.next()
}

// global reserves a word of data for one global variable and applies an
// optional constant initializer.
func (p *Parser) global(d *Symbol) {
	d.Class = ClassGlo
	d.Val = p.allocGlobal()
	if p.tok != ASSIGN {
		return
	}
	p.next()
	neg := false
	if p.tok == SUB {
		neg = true
		p.next()
	}
	switch p.tok {
	case NUM:
		v := p.lex.Val
		if neg {
			v = -v
		}
		if d.Type == TypeFloat {
			p.setGlobal(d.Val, int64(math.Float64bits(float64(v))))
		} else {
			p.setGlobal(d.Val, v)
		}
	case FNUM:
		f := p.lex.FVal
		if neg {
			f = -f
		}
		if d.Type == TypeFloat {
			p.setGlobal(d.Val, int64(math.Float64bits(f)))
		} else if d.Type >= TypePtr {
			p.fail("pointers and floats do not mix")
		} else {
			p.setGlobal(d.Val, int64(f))
		}
	case STR:
		if neg {
			p.fail("bad global initializer")
		}
		if d.Type == TypeFloat {
			p.fail("pointers and floats do not mix")
		}
		p.setGlobal(d.Val, p.internString(p.lex.Str))
	default:
		p.fail("bad global initializer")
	}
	p.next()
}

// function compiles one function definition: parameters, leading local
// declarations, then the body. Parameters and locals shadow globals for
// the duration of the body and are unwound afterwards.
func (p *Parser) function(d *Symbol) {
	if d.Type == TypeFloat {
		p.fail("functions cannot return float")
	}
	d.Class = ClassFun
	d.Val = int64(len(p.code))
	p.next() // past (

	nparam := int64(0)
	for p.tok != RPAREN {
		ty := TypeInt
		switch p.tok {
		case INT:
			p.next()
		case CHAR:
			p.next()
			ty = TypeChar
		case FLOAT:
			p.fail("floats cannot be function parameters")
		}
		for p.tok == MUL {
			p.next()
			ty += TypePtr
		}
		if p.tok != ID {
			p.fail("bad parameter declaration")
		}
		s := p.lex.Sym
		if s.Class == ClassLoc {
			p.fail("duplicate parameter definition")
		}
		p.next()
		s.Shadow()
		s.Class = ClassLoc
		s.Type = ty
		s.Val = 2 + nparam // above the saved bp and return address
		nparam++
		if p.tok == COMMA {
			p.next()
		} else if p.tok != RPAREN {
			p.fail("bad parameter declaration")
		}
	}
	p.next()
	p.expect(LBRACE, "bad function definition")

	// leading local declarations; the frame size is known before any
	// statement code is emitted, so ENT needs no patching
	nloc := int64(0)
	for p.tok == INT || p.tok == CHAR || p.tok == FLOAT {
		bt := TypeInt
		if p.tok == CHAR {
			bt = TypeChar
		} else if p.tok == FLOAT {
			bt = TypeFloat
		}
		p.next()
		for p.tok != SEMICOLON {
			ty := bt
			for p.tok == MUL {
				if ty == TypeFloat {
					p.fail("pointer to float is not allowed")
				}
				p.next()
				ty += TypePtr
			}
			if p.tok != ID {
				p.fail("bad local declaration")
			}
			s := p.lex.Sym
			if s.Class == ClassLoc {
				p.fail("duplicate local definition")
			}
			p.next()
			nloc++
			s.Shadow()
			s.Class = ClassLoc
			s.Type = ty
			s.Val = -nloc // below the saved bp
			if p.tok == COMMA {
				p.next()
			} else if p.tok != SEMICOLON {
				p.fail("bad local declaration")
			}
		}
		p.next()
	}
	p.emitArg(vm.ENT, nloc)

	for p.tok != RBRACE {
		p.stmt()
	}
	p.emit(vm.LEV) // implicit return for bodies that fall off the end

	p.syms.RestoreLocals()
}

// stmt compiles one statement.
func (p *Parser) stmt() {
	switch p.tok {
	case IF:
		p.next()
		p.expect(LPAREN, "open paren expected")
		p.expr(ASSIGN)
		if p.ty == TypeFloat {
			p.fail("bad condition type")
		}
		p.expect(RPAREN, "close paren expected")
		b := p.emitJump(vm.BZ)
		p.stmt()
		if p.tok == ELSE {
			p.next()
			j := p.emitJump(vm.JMP)
			p.patch(b, len(p.code))
			p.stmt()
			p.patch(j, len(p.code))
		} else {
			p.patch(b, len(p.code))
		}

	case WHILE:
		p.next()
		top := len(p.code)
		p.expect(LPAREN, "open paren expected")
		p.expr(ASSIGN)
		if p.ty == TypeFloat {
			p.fail("bad condition type")
		}
		p.expect(RPAREN, "close paren expected")
		b := p.emitJump(vm.BZ)
		p.stmt()
		p.patch(p.emitJump(vm.JMP), top)
		p.patch(b, len(p.code))

	case RETURN:
		p.next()
		if p.tok != SEMICOLON {
			p.expr(ASSIGN)
			if p.ty == TypeFloat {
				p.emit(vm.F2I) // return values are integers: truncate
			}
		}
		p.expect(SEMICOLON, "semicolon expected")
		p.emit(vm.LEV)

	case LBRACE:
		p.next()
		for p.tok != RBRACE {
			p.stmt()
		}
		p.next()

	case SEMICOLON:
		p.next()

	default:
		p.expr(ASSIGN)
		p.expect(SEMICOLON, "semicolon expected")
	}
}
