package compiler

import (
	"encoding/binary"

	"goc4/pkg/vm"
)

// emit appends one instruction and returns its index.
func (p *Parser) emit(op vm.Opcode) int {
	idx := len(p.code)
	p.code = append(p.code, vm.Instruction{Op: op})
	p.srcMap[idx] = p.lex.Line
	return idx
}

// emitArg appends an instruction with an operand.
func (p *Parser) emitArg(op vm.Opcode, arg int64) int {
	idx := p.emit(op)
	p.code[idx].Arg = arg
	return idx
}

// emitJump appends a branch with a placeholder target and records the
// site so it can be relocated if the surrounding code is moved.
func (p *Parser) emitJump(op vm.Opcode) int {
	idx := p.emitArg(op, 0)
	p.jumpSites = append(p.jumpSites, idx)
	return idx
}

// patch points a previously emitted branch at target.
func (p *Parser) patch(site, target int) {
	p.code[site].Arg = int64(target)
}

// last returns the most recently emitted opcode. The expression
// compiler inspects it to recognize a value that was loaded from an
// address, which is what makes something assignable.
func (p *Parser) last() vm.Opcode {
	if len(p.code) == 0 {
		return vm.Opcode(0xff)
	}
	return p.code[len(p.code)-1].Op
}

// internString places a NUL-terminated copy of s in the data segment,
// pads to word alignment, and returns its address.
func (p *Parser) internString(s string) int64 {
	addr := vm.DataBase + int64(len(p.data))
	p.data = append(p.data, s...)
	p.data = append(p.data, 0)
	for len(p.data)%vm.WordSize != 0 {
		p.data = append(p.data, 0)
	}
	return addr
}

// allocGlobal reserves one zeroed word in the data segment and returns
// its address. Every global, char included, gets a full word.
func (p *Parser) allocGlobal() int64 {
	addr := vm.DataBase + int64(len(p.data))
	p.data = append(p.data, make([]byte, vm.WordSize)...)
	return addr
}

// setGlobal writes an initializer value into a previously reserved
// global word.
func (p *Parser) setGlobal(addr int64, v int64) {
	binary.LittleEndian.PutUint64(p.data[addr-vm.DataBase:], uint64(v))
}

// reverseArgBlocks reorders the code compiled for a call's arguments so
// that the rightmost argument runs (and pushes) first, leaving the
// leftmost argument on top of the stack. Arguments are parsed left to
// right; starts[i] is the index of argument i's first instruction, and
// each block ends with its PSH. Branches inside a moved block always
// target the same block, so relocating them is a fixed offset per
// block.
func (p *Parser) reverseArgBlocks(starts []int, end int) {
	if len(starts) < 2 {
		return
	}
	begin := starts[0]

	blockEnd := func(i int) int {
		if i+1 < len(starts) {
			return starts[i+1]
		}
		return end
	}
	blockOf := func(idx int) int {
		for i := len(starts) - 1; i >= 0; i-- {
			if idx >= starts[i] {
				return i
			}
		}
		return 0
	}

	deltas := make([]int, len(starts))
	pos := begin
	for i := len(starts) - 1; i >= 0; i-- {
		deltas[i] = pos - starts[i]
		pos += blockEnd(i) - starts[i]
	}

	for n, site := range p.jumpSites {
		if site >= begin && site < end {
			d := deltas[blockOf(site)]
			p.code[site].Arg += int64(d)
			p.jumpSites[n] = site + d
		}
	}

	moved := make(map[int]int)
	for idx := begin; idx < end; idx++ {
		if line, ok := p.srcMap[idx]; ok {
			moved[idx+deltas[blockOf(idx)]] = line
			delete(p.srcMap, idx)
		}
	}
	for idx, line := range moved {
		p.srcMap[idx] = line
	}

	tmp := make([]vm.Instruction, 0, end-begin)
	for i := len(starts) - 1; i >= 0; i-- {
		tmp = append(tmp, p.code[starts[i]:blockEnd(i)]...)
	}
	copy(p.code[begin:end], tmp)
}
