package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a fatal assembler or executor error.
type ErrorKind int

const (
	KindReservedID ErrorKind = iota + 1
	KindDuplicateID
	KindUnknownID
	KindDoubleRelease
	KindUnresolvedLabel
	KindUnknownLabel
	KindProgramMalformed
	KindTypeMismatch
	KindDivisionByZero
	KindInvalidNumber
	KindInputClosed
	KindStepLimit
)

// Sentinel errors, one per kind. Every *Error unwraps to the sentinel of
// its kind, so callers can use errors.Is.
var (
	ErrReservedID       = errors.New("ReservedIdViolation")
	ErrDuplicateID      = errors.New("DuplicateId")
	ErrUnknownID        = errors.New("UnknownId")
	ErrDoubleRelease    = errors.New("DoubleRelease")
	ErrUnresolvedLabel  = errors.New("UnresolvedLabel")
	ErrUnknownLabel     = errors.New("UnknownLabel")
	ErrProgramMalformed = errors.New("ProgramMalformed")
	ErrTypeMismatch     = errors.New("TypeMismatch")
	ErrDivisionByZero   = errors.New("DivisionByZero")
	ErrInvalidNumber    = errors.New("InvalidNumber")
	ErrInputClosed      = errors.New("InputClosed")
	ErrStepLimit        = errors.New("StepLimit")
)

var kindSentinels = map[ErrorKind]error{
	KindReservedID:       ErrReservedID,
	KindDuplicateID:      ErrDuplicateID,
	KindUnknownID:        ErrUnknownID,
	KindDoubleRelease:    ErrDoubleRelease,
	KindUnresolvedLabel:  ErrUnresolvedLabel,
	KindUnknownLabel:     ErrUnknownLabel,
	KindProgramMalformed: ErrProgramMalformed,
	KindTypeMismatch:     ErrTypeMismatch,
	KindDivisionByZero:   ErrDivisionByZero,
	KindInvalidNumber:    ErrInvalidNumber,
	KindInputClosed:      ErrInputClosed,
	KindStepLimit:        ErrStepLimit,
}

// String returns the diagnostic name of the kind.
func (k ErrorKind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a fatal error tied to a slot id and, when known, a stream
// offset and source line.
type Error struct {
	Kind   ErrorKind
	Slot   SlotID // 0 when no slot is involved
	Label  string // symbolic block name, for label errors
	Offset int    // stream offset, -1 when unknown
	Line   int    // source line (1-based), 0 when unknown
	Detail string
}

// Errorf builds an Error of the given kind.
func Errorf(kind ErrorKind, slot SlotID, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Slot:   slot,
		Offset: -1,
		Detail: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}

	var where []string
	if e.Slot != 0 {
		where = append(where, fmt.Sprintf("slot %d", e.Slot))
	}
	if e.Label != "" {
		where = append(where, fmt.Sprintf("label %q", e.Label))
	}
	if e.Offset >= 0 {
		where = append(where, fmt.Sprintf("offset %d", e.Offset))
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if len(where) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(where, ", "))
		sb.WriteString(")")
	}
	return sb.String()
}

// Unwrap returns the sentinel error for the kind.
func (e *Error) Unwrap() error {
	return kindSentinels[e.Kind]
}

// At returns a copy of e located at a stream offset.
func (e *Error) At(offset int) *Error {
	c := *e
	c.Offset = offset
	return &c
}

// OnLine returns a copy of e located at a source line.
func (e *Error) OnLine(line int) *Error {
	c := *e
	c.Line = line
	return &c
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
