package dsl

import (
	"fmt"
	"strings"
)

// CompileError is a malformed intent DSL diagnostic. Pos is a byte offset
// into Source.
type CompileError struct {
	Pos    int
	Msg    string
	Source string
}

func newCompileError(src string, pos int, msg string) *CompileError {
	return &CompileError{Pos: pos, Msg: msg, Source: src}
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("intent DSL error at position %d: %s", e.Pos, e.Msg)
}

// Diagnostic renders the message with the offending line and a caret.
func (e *CompileError) Diagnostic() string {
	line, col := e.lineCol()
	lines := strings.Split(e.Source, "\n")
	text := ""
	if line-1 < len(lines) {
		text = lines[line-1]
	}
	return fmt.Sprintf("%s (line %d, column %d)\n  %s\n  %s^",
		e.Msg, line, col, text, strings.Repeat(" ", col-1))
}

func (e *CompileError) lineCol() (int, int) {
	line, col := 1, 1
	for i := 0; i < e.Pos && i < len(e.Source); i++ {
		if e.Source[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
