package compiler

import (
	"fmt"
	"strings"
)

// Error is a translation error tied to a source line.
type Error struct {
	Line   int // 1-based
	Column int // 1-based, 0 when the whole line is at fault
	Msg    string
	Err    error // underlying bytecode error, if any
}

func (e *Error) Error() string {
	if e.Line <= 0 {
		return e.Msg
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorList collects every error found in one translation.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(l[0].Error())
	fmt.Fprintf(&sb, " (and %d more)", len(l)-1)
	return sb.String()
}

// Unwrap exposes every error to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}
