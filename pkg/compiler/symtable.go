package compiler

import (
	"fmt"
	"sort"
	"strings"

	"goc4/pkg/vm"
)

// Type is the compiler's view of an expression or variable type. It is
// a small integer so that pointer types can be built by addition: a
// pointer to T is T + TypePtr, a pointer to that adds TypePtr again.
// Any value >= TypePtr is a pointer; any value > TypePtr points at
// word-sized elements and scales its arithmetic by the word size.
type Type int

const (
	TypeChar  Type = 0
	TypeInt   Type = 1
	TypeFloat Type = 2
	TypePtr   Type = 4
)

func (t Type) String() string {
	stars := ""
	for t >= TypePtr {
		stars += "*"
		t -= TypePtr
	}
	switch t {
	case TypeChar:
		return "char" + stars
	case TypeInt:
		return "int" + stars
	case TypeFloat:
		return "float" + stars
	}
	return fmt.Sprintf("type(%d)%s", int(t), stars)
}

// Class says what kind of thing a symbol names.
type Class int

const (
	ClassNone Class = iota // interned but not declared
	ClassNum               // enum constant
	ClassFun               // function; Val is the code entry index
	ClassSys               // builtin; Val is the syscall id
	ClassGlo               // global variable; Val is its data address
	ClassLoc               // parameter or local; Val is the frame slot
)

var classNames = [...]string{
	ClassNone: "none",
	ClassNum:  "enum",
	ClassFun:  "func",
	ClassSys:  "sys",
	ClassGlo:  "global",
	ClassLoc:  "local",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Symbol is one entry in the single flat namespace. There is no scope
// stack: when a parameter or local shadows a global, the global's
// Class/Type/Val triple is parked in the shadow slot and put back when
// the function ends.
type Symbol struct {
	Name  string
	Tok   TokenType // ID for ordinary names, the keyword token otherwise
	Class Class
	Type  Type
	Val   int64

	// shadow slot
	PrevClass Class
	PrevType  Type
	PrevVal   int64
}

// Shadow parks the current declaration so the name can be reused as a
// parameter or local for the duration of one function body.
func (s *Symbol) Shadow() {
	s.PrevClass, s.PrevType, s.PrevVal = s.Class, s.Type, s.Val
}

func (s *Symbol) unshadow() {
	s.Class, s.Type, s.Val = s.PrevClass, s.PrevType, s.PrevVal
}

// SymbolTable interns every identifier exactly once; keywords and the
// builtin functions are pre-interned so the lexer can classify them by
// a plain lookup.
type SymbolTable struct {
	syms  map[string]*Symbol
	order []*Symbol
}

func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{syms: make(map[string]*Symbol)}

	keywords := map[string]TokenType{
		"char":   CHAR,
		"else":   ELSE,
		"enum":   ENUM,
		"float":  FLOAT,
		"if":     IF,
		"int":    INT,
		"return": RETURN,
		"sizeof": SIZEOF,
		"while":  WHILE,
		"void":   CHAR, // void is accepted and treated as char
	}
	for name, tok := range keywords {
		s := st.Intern(name)
		s.Tok = tok
	}

	builtins := []struct {
		name string
		id   int64
	}{
		{"open", vm.SysOpen},
		{"read", vm.SysRead},
		{"close", vm.SysClose},
		{"printf", vm.SysPrintf},
		{"malloc", vm.SysMalloc},
		{"free", vm.SysFree},
		{"memset", vm.SysMemset},
		{"memcmp", vm.SysMemcmp},
		{"exit", vm.SysExit},
	}
	for _, b := range builtins {
		s := st.Intern(b.name)
		s.Class = ClassSys
		s.Type = TypeInt
		s.Val = b.id
	}
	return st
}

// Intern returns the unique Symbol for name, creating it as a plain
// identifier on first sight.
func (st *SymbolTable) Intern(name string) *Symbol {
	if s, ok := st.syms[name]; ok {
		return s
	}
	s := &Symbol{Name: name, Tok: ID}
	st.syms[name] = s
	st.order = append(st.order, s)
	return s
}

// Lookup returns the symbol for name, or nil if it was never seen.
func (st *SymbolTable) Lookup(name string) *Symbol {
	return st.syms[name]
}

// RestoreLocals walks the table at the end of a function body and
// reinstates whatever each parameter or local was hiding.
func (st *SymbolTable) RestoreLocals() {
	for _, s := range st.order {
		if s.Class == ClassLoc {
			s.unshadow()
		}
	}
}

// String returns a deterministically ordered dump of the declared
// symbols, for tooling.
func (st *SymbolTable) String() string {
	names := make([]string, 0, len(st.syms))
	for name, s := range st.syms {
		if s.Class == ClassNone || s.Class == ClassSys || s.Tok != ID {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		s := st.syms[name]
		fmt.Fprintf(&sb, "%-20s %-8s %-8s val=%d\n", s.Name, s.Class, s.Type, s.Val)
	}
	return sb.String()
}
