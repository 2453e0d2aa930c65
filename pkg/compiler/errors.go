package compiler

import "fmt"

// Kind classifies a compile-time failure.
type Kind string

const (
	KindLexical Kind = "LexicalError"
	KindSyntax  Kind = "SyntaxError"
)

// CompileError is the single error type produced by the front end. Line
// is 1-based; Snippet holds the offending source line when available.
type CompileError struct {
	Kind    Kind
	Line    int
	Msg     string
	Snippet string
}

func (e *CompileError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s: line %d: %s", e.Kind, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: line %d: %s\n  |> %s", e.Kind, e.Line, e.Msg, e.Snippet)
}

// The front end is a deeply recursive single pass, so it reports
// failures by panicking with a *CompileError. trap is the matching
// deferred recover: it moves the error into the caller's return value
// and lets any other panic keep going.
func trap(err *error) {
	if r := recover(); r != nil {
		ce, ok := r.(*CompileError)
		if !ok {
			panic(r)
		}
		*err = ce
	}
}
