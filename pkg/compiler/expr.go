package compiler

import (
	"fmt"
	"math"

	"goc4/pkg/vm"
)

// load fetches the value at the address in ax, sized by p.ty.
func (p *Parser) load() {
	if p.ty == TypeChar {
		p.emit(vm.LC)
	} else {
		p.emit(vm.LI)
	}
}

// store writes ax to the address on the stack, sized by p.ty.
func (p *Parser) store() {
	if p.ty == TypeChar {
		p.emit(vm.SC)
	} else {
		p.emit(vm.SI)
	}
}

// step is the increment unit for ++ and --: word-sized for pointers to
// word-sized elements, one for everything else.
func (p *Parser) step() int64 {
	if p.ty > TypePtr {
		return vm.WordSize
	}
	return 1
}

// noFloat rejects float operands for operators that only make sense on
// integers and pointers.
func (p *Parser) noFloat(t Type) {
	if t == TypeFloat || p.ty == TypeFloat {
		p.fail("bad operand type")
	}
}

// floatOperands widens the integer side of a mixed float arithmetic op
// so both operands are floats. The right operand sits in ax, the left
// waits on the stack.
func (p *Parser) floatOperands(t Type) {
	if t >= TypePtr || p.ty >= TypePtr {
		p.fail("pointers and floats do not mix")
	}
	if p.ty != TypeFloat {
		p.emit(vm.I2F)
	}
	if t != TypeFloat {
		p.emit(vm.I2FS)
	}
}

// convert coerces the value in ax from p.ty to t. Only float/non-float
// conversions emit code; pointer and integer casts are free.
func (p *Parser) convert(t Type) {
	if t == TypeFloat && p.ty != TypeFloat {
		if p.ty >= TypePtr {
			p.fail("pointers and floats do not mix")
		}
		p.emit(vm.I2F)
	} else if t != TypeFloat && p.ty == TypeFloat {
		if t >= TypePtr {
			p.fail("pointers and floats do not mix")
		}
		p.emit(vm.F2I)
	}
}

// lvalue rewrites the trailing load into PSH-of-address plus a reload,
// which leaves the address on the stack for a later store while the
// value still lands in ax.
func (p *Parser) lvalue(msg string) {
	switch p.last() {
	case vm.LC:
		p.code[len(p.code)-1].Op = vm.PSH
		p.emit(vm.LC)
	case vm.LI:
		p.code[len(p.code)-1].Op = vm.PSH
		p.emit(vm.LI)
	default:
		p.fail(msg)
	}
}

// expr compiles one expression, leaving its value in ax and its type in
// p.ty. lev is the precedence floor: operators that bind less tightly
// are left for the caller.
func (p *Parser) expr(lev TokenType) {
	// unary / primary part
	switch p.tok {
	case EOF:
		p.fail("unexpected eof in expression")

	case NUM:
		p.emitArg(vm.IMM, p.lex.Val)
		p.next()
		p.ty = TypeInt

	case FNUM:
		p.emitArg(vm.FIMM, int64(math.Float64bits(p.lex.FVal)))
		p.next()
		p.ty = TypeFloat

	case STR:
		s := p.lex.Str
		p.next()
		for p.tok == STR { // adjacent literals concatenate
			s += p.lex.Str
			p.next()
		}
		p.emitArg(vm.IMM, p.internString(s))
		p.ty = TypeChar + TypePtr

	case SIZEOF:
		p.next()
		p.expect(LPAREN, "open paren expected in sizeof")
		t := TypeInt
		switch p.tok {
		case INT:
			p.next()
		case CHAR:
			p.next()
			t = TypeChar
		case FLOAT:
			p.next()
			t = TypeFloat
		}
		for p.tok == MUL {
			if t == TypeFloat {
				p.fail("pointer to float is not allowed")
			}
			p.next()
			t += TypePtr
		}
		p.expect(RPAREN, "close paren expected in sizeof")
		if t == TypeChar {
			p.emitArg(vm.IMM, 1)
		} else {
			p.emitArg(vm.IMM, vm.WordSize)
		}
		p.ty = TypeInt

	case ID:
		d := p.lex.Sym
		p.next()
		if p.tok == LPAREN {
			// call: compile arguments left to right, then reorder the
			// blocks so the rightmost pushes first
			p.next()
			if d.Class != ClassSys && d.Class != ClassFun {
				if d.Class == ClassNone {
					p.fail("undefined function " + d.Name)
				}
				p.fail("bad function call")
			}
			var starts []int
			n := int64(0)
			for p.tok != RPAREN {
				starts = append(starts, len(p.code))
				p.expr(ASSIGN)
				if d.Class == ClassFun && p.ty == TypeFloat {
					p.fail("floats cannot be function arguments")
				}
				p.emit(vm.PSH)
				n++
				if p.tok == COMMA {
					p.next()
				} else if p.tok != RPAREN {
					p.fail("bad function call")
				}
			}
			p.next()
			p.reverseArgBlocks(starts, len(p.code))
			if d.Class == ClassSys {
				p.emitArg(vm.SYS, d.Val)
			} else {
				p.emitArg(vm.JSR, d.Val)
			}
			if n > 0 {
				p.emitArg(vm.ADJ, n)
			}
			p.ty = d.Type
		} else if d.Class == ClassNum {
			p.emitArg(vm.IMM, d.Val)
			p.ty = TypeInt
		} else {
			switch d.Class {
			case ClassLoc:
				p.emitArg(vm.LEA, d.Val)
			case ClassGlo:
				p.emitArg(vm.IMM, d.Val)
			default:
				p.fail("undefined variable " + d.Name)
			}
			p.ty = d.Type
			p.load()
		}

	case LPAREN:
		p.next()
		if p.tok == INT || p.tok == CHAR || p.tok == FLOAT {
			// cast
			t := TypeInt
			switch p.tok {
			case CHAR:
				t = TypeChar
			case FLOAT:
				t = TypeFloat
			}
			p.next()
			for p.tok == MUL {
				if t == TypeFloat {
					p.fail("pointer to float is not allowed")
				}
				p.next()
				t += TypePtr
			}
			p.expect(RPAREN, "bad cast")
			p.expr(INC)
			p.convert(t)
			p.ty = t
		} else {
			p.expr(ASSIGN)
			p.expect(RPAREN, "close paren expected")
		}

	case MUL:
		// dereference
		p.next()
		p.expr(INC)
		if p.ty < TypePtr {
			p.fail("bad dereference")
		}
		p.ty -= TypePtr
		p.load()

	case AND:
		// address-of: drop the load the operand just emitted
		p.next()
		p.expr(INC)
		if op := p.last(); op == vm.LC || op == vm.LI {
			p.code = p.code[:len(p.code)-1]
		} else {
			p.fail("bad address-of")
		}
		if p.ty == TypeFloat {
			p.fail("pointer to float is not allowed")
		}
		p.ty += TypePtr

	case NOT:
		p.next()
		p.expr(INC)
		if p.ty == TypeFloat {
			p.fail("bad operand type")
		}
		p.emit(vm.PSH)
		p.emitArg(vm.IMM, 0)
		p.emit(vm.EQ)
		p.ty = TypeInt

	case TILDE:
		p.next()
		p.expr(INC)
		if p.ty == TypeFloat {
			p.fail("bad operand type")
		}
		p.emit(vm.PSH)
		p.emitArg(vm.IMM, -1)
		p.emit(vm.XOR)
		p.ty = TypeInt

	case ADD:
		p.next()
		p.expr(INC)
		if p.ty != TypeFloat {
			p.ty = TypeInt
		}

	case SUB:
		p.next()
		if p.tok == NUM {
			p.emitArg(vm.IMM, -p.lex.Val)
			p.next()
			p.ty = TypeInt
		} else if p.tok == FNUM {
			p.emitArg(vm.FIMM, int64(math.Float64bits(-p.lex.FVal)))
			p.next()
			p.ty = TypeFloat
		} else {
			m := p.emitArg(vm.IMM, -1)
			p.emit(vm.PSH)
			p.expr(INC)
			if p.ty == TypeFloat {
				p.code[m] = vm.Instruction{Op: vm.FIMM, Arg: int64(math.Float64bits(-1))}
				p.emit(vm.FMUL)
			} else {
				p.emit(vm.MUL)
				p.ty = TypeInt
			}
		}

	case INC, DEC:
		t := p.tok
		p.next()
		p.expr(INC)
		if p.ty == TypeFloat {
			p.fail("bad operand type")
		}
		p.lvalue("bad lvalue in pre-increment")
		p.emit(vm.PSH)
		p.emitArg(vm.IMM, p.step())
		if t == INC {
			p.emit(vm.ADD)
		} else {
			p.emit(vm.SUB)
		}
		p.store()

	default:
		p.fail("bad expression")
	}

	// precedence climb: fold in operators at or above the floor
	for p.tok >= lev {
		t := p.ty
		switch p.tok {
		case ASSIGN:
			p.next()
			if op := p.last(); op == vm.LC || op == vm.LI {
				p.code[len(p.code)-1] = vm.Instruction{Op: vm.PSH}
			} else {
				p.fail("bad lvalue in assignment")
			}
			p.expr(ASSIGN)
			p.convert(t)
			p.ty = t
			p.store()

		case COND:
			p.next()
			if t == TypeFloat {
				p.fail("bad condition type")
			}
			b := p.emitJump(vm.BZ)
			p.expr(ASSIGN)
			p.expect(COLON, "conditional missing colon")
			j := p.emitJump(vm.JMP)
			p.patch(b, len(p.code))
			p.expr(COND)
			p.patch(j, len(p.code))

		case LOR:
			p.next()
			if t == TypeFloat {
				p.fail("bad condition type")
			}
			b := p.emitJump(vm.BNZ)
			p.expr(LAND)
			if p.ty == TypeFloat {
				p.fail("bad condition type")
			}
			p.patch(b, len(p.code))
			p.ty = TypeInt

		case LAND:
			p.next()
			if t == TypeFloat {
				p.fail("bad condition type")
			}
			b := p.emitJump(vm.BZ)
			p.expr(OR)
			if p.ty == TypeFloat {
				p.fail("bad condition type")
			}
			p.patch(b, len(p.code))
			p.ty = TypeInt

		case OR:
			p.next()
			p.emit(vm.PSH)
			p.expr(XOR)
			p.noFloat(t)
			p.emit(vm.OR)
			p.ty = TypeInt

		case XOR:
			p.next()
			p.emit(vm.PSH)
			p.expr(AND)
			p.noFloat(t)
			p.emit(vm.XOR)
			p.ty = TypeInt

		case AND:
			p.next()
			p.emit(vm.PSH)
			p.expr(EQ)
			p.noFloat(t)
			p.emit(vm.AND)
			p.ty = TypeInt

		case EQ:
			p.next()
			p.emit(vm.PSH)
			p.expr(LT)
			p.noFloat(t)
			p.emit(vm.EQ)
			p.ty = TypeInt

		case NE:
			p.next()
			p.emit(vm.PSH)
			p.expr(LT)
			p.noFloat(t)
			p.emit(vm.NE)
			p.ty = TypeInt

		case LT:
			p.next()
			p.emit(vm.PSH)
			p.expr(SHL)
			p.noFloat(t)
			p.emit(vm.LT)
			p.ty = TypeInt

		case GT:
			p.next()
			p.emit(vm.PSH)
			p.expr(SHL)
			p.noFloat(t)
			p.emit(vm.GT)
			p.ty = TypeInt

		case LE:
			p.next()
			p.emit(vm.PSH)
			p.expr(SHL)
			p.noFloat(t)
			p.emit(vm.LE)
			p.ty = TypeInt

		case GE:
			p.next()
			p.emit(vm.PSH)
			p.expr(SHL)
			p.noFloat(t)
			p.emit(vm.GE)
			p.ty = TypeInt

		case SHL:
			p.next()
			p.emit(vm.PSH)
			p.expr(ADD)
			p.noFloat(t)
			p.emit(vm.SHL)
			p.ty = TypeInt

		case SHR:
			p.next()
			p.emit(vm.PSH)
			p.expr(ADD)
			p.noFloat(t)
			p.emit(vm.SHR)
			p.ty = TypeInt

		case ADD:
			p.next()
			p.emit(vm.PSH)
			p.expr(MUL)
			if t == TypeFloat || p.ty == TypeFloat {
				p.floatOperands(t)
				p.emit(vm.FADD)
				p.ty = TypeFloat
			} else {
				p.ty = t
				if p.ty > TypePtr { // pointer arithmetic scales by the element size
					p.emit(vm.PSH)
					p.emitArg(vm.IMM, vm.WordSize)
					p.emit(vm.MUL)
				}
				p.emit(vm.ADD)
			}

		case SUB:
			p.next()
			p.emit(vm.PSH)
			p.expr(MUL)
			if t == TypeFloat || p.ty == TypeFloat {
				p.floatOperands(t)
				p.emit(vm.FSUB)
				p.ty = TypeFloat
			} else if t > TypePtr && t == p.ty {
				// pointer difference, in elements
				p.emit(vm.SUB)
				p.emit(vm.PSH)
				p.emitArg(vm.IMM, vm.WordSize)
				p.emit(vm.DIV)
				p.ty = TypeInt
			} else {
				p.ty = t
				if p.ty > TypePtr {
					p.emit(vm.PSH)
					p.emitArg(vm.IMM, vm.WordSize)
					p.emit(vm.MUL)
				}
				p.emit(vm.SUB)
			}

		case MUL:
			p.next()
			p.emit(vm.PSH)
			p.expr(INC)
			if t == TypeFloat || p.ty == TypeFloat {
				p.floatOperands(t)
				p.emit(vm.FMUL)
				p.ty = TypeFloat
			} else {
				p.emit(vm.MUL)
				p.ty = TypeInt
			}

		case DIV:
			p.next()
			p.emit(vm.PSH)
			p.expr(INC)
			if t == TypeFloat || p.ty == TypeFloat {
				p.floatOperands(t)
				p.emit(vm.FDIV)
				p.ty = TypeFloat
			} else {
				p.emit(vm.DIV)
				p.ty = TypeInt
			}

		case MOD:
			p.next()
			p.emit(vm.PSH)
			p.expr(INC)
			p.noFloat(t)
			p.emit(vm.MOD)
			p.ty = TypeInt

		case INC, DEC:
			// postfix: store the stepped value, leave the original in ax
			if p.ty == TypeFloat {
				p.fail("bad operand type")
			}
			p.lvalue("bad lvalue in post-increment")
			p.emit(vm.PSH)
			p.emitArg(vm.IMM, p.step())
			if p.tok == INC {
				p.emit(vm.ADD)
			} else {
				p.emit(vm.SUB)
			}
			p.store()
			p.emit(vm.PSH)
			p.emitArg(vm.IMM, p.step())
			if p.tok == INC {
				p.emit(vm.SUB)
			} else {
				p.emit(vm.ADD)
			}
			p.next()

		case BRAK:
			p.next()
			p.emit(vm.PSH)
			p.expr(ASSIGN)
			p.expect(RBRACKET, "close bracket expected")
			if p.ty == TypeFloat {
				p.fail("bad index type")
			}
			if t > TypePtr {
				p.emit(vm.PSH)
				p.emitArg(vm.IMM, vm.WordSize)
				p.emit(vm.MUL)
			} else if t < TypePtr {
				p.fail("pointer type expected")
			}
			p.emit(vm.ADD)
			p.ty = t - TypePtr
			p.load()

		default:
			p.fail(fmt.Sprintf("compiler error, token %s", p.tok))
		}
	}
}
