// Package asm turns calls into an instruction stream. It owns the slot id
// allocator and the pending-reference mechanism for forward jumps.
package asm

import (
	"errors"
	"strconv"

	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("slotvm.asm")

// Builder assembles an instruction stream one record at a time. Each
// write method emits one instruction kind; result-producing methods take a
// Dest and return the id that now holds the result.
type Builder struct {
	alloc  *Allocator
	stream *bytecode.Stream
	line   int
}

// NewBuilder creates a builder with an empty stream and a fresh allocator.
func NewBuilder() *Builder {
	return &Builder{
		alloc:  NewAllocator(),
		stream: bytecode.NewStream(),
	}
}

// Allocator returns the builder's slot id allocator.
func (b *Builder) Allocator() *Allocator {
	return b.alloc
}

// SetLine sets the source line recorded for subsequent records.
// Zero disables line recording.
func (b *Builder) SetLine(line int) {
	b.line = line
}

// Len returns the number of words emitted so far.
func (b *Builder) Len() int {
	return b.stream.Len()
}

func (b *Builder) emit(op bytecode.Opcode, operands ...bytecode.Word) {
	offset := b.stream.Emit(op, operands...)
	if b.line > 0 {
		b.stream.AddSourceLine(offset, b.line)
	}
}

// located attaches the current source line to bytecode errors.
func (b *Builder) located(err error) error {
	var e *bytecode.Error
	if b.line > 0 && errors.As(err, &e) && e.Line == 0 {
		return e.OnLine(b.line)
	}
	return err
}

func (b *Builder) target(dst Dest) (bytecode.SlotID, error) {
	if !dst.IsOverwrite() {
		return b.alloc.AllocateFresh(), nil
	}
	if err := b.alloc.Guard(dst.ID()); err != nil {
		return 0, b.located(err)
	}
	return dst.ID(), nil
}

// result emits op with the destination followed by slot operands.
func (b *Builder) result(op bytecode.Opcode, dst Dest, srcs ...bytecode.SlotID) (bytecode.SlotID, error) {
	if err := b.alloc.Guard(srcs...); err != nil {
		return 0, b.located(err)
	}
	id, err := b.target(dst)
	if err != nil {
		return 0, err
	}
	words := make([]bytecode.Word, 0, len(srcs)+1)
	words = append(words, bytecode.SlotWord(id))
	for _, src := range srcs {
		words = append(words, bytecode.SlotWord(src))
	}
	b.emit(op, words...)
	return id, nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Add emits dst = lhs + rhs.
func (b *Builder) Add(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpAdd, dst, lhs, rhs)
}

// Sub emits dst = lhs - rhs.
func (b *Builder) Sub(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpSub, dst, lhs, rhs)
}

// Mul emits dst = lhs * rhs.
func (b *Builder) Mul(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpMul, dst, lhs, rhs)
}

// Div emits dst = lhs / rhs.
func (b *Builder) Div(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpDiv, dst, lhs, rhs)
}

// Mod emits dst = lhs mod rhs.
func (b *Builder) Mod(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpMod, dst, lhs, rhs)
}

// Exp emits dst = lhs raised to rhs.
func (b *Builder) Exp(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpExp, dst, lhs, rhs)
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func (b *Builder) Eq(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpEq, dst, lhs, rhs)
}

func (b *Builder) Neq(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpNeq, dst, lhs, rhs)
}

func (b *Builder) Gt(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpGt, dst, lhs, rhs)
}

func (b *Builder) Lt(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpLt, dst, lhs, rhs)
}

func (b *Builder) Gte(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpGte, dst, lhs, rhs)
}

func (b *Builder) Lte(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpLte, dst, lhs, rhs)
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// Allocate emits ALLOCA for dst.
func (b *Builder) Allocate(dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpAlloca, dst)
}

// AllocateExplicit registers a caller-chosen id and emits ALLOCA for it.
func (b *Builder) AllocateExplicit(id bytecode.SlotID) (bytecode.SlotID, error) {
	if err := b.alloc.AllocateExplicit(id); err != nil {
		return 0, b.located(err)
	}
	b.emit(bytecode.OpAlloca, bytecode.SlotWord(id))
	return id, nil
}

// Store emits a copy of src into dst.
func (b *Builder) Store(dst, src bytecode.SlotID) (bytecode.SlotID, error) {
	if err := b.alloc.Guard(dst, src); err != nil {
		return 0, b.located(err)
	}
	b.emit(bytecode.OpStore, bytecode.SlotWord(dst), bytecode.SlotWord(src))
	return dst, nil
}

// Delete releases id and emits DEL for it.
func (b *Builder) Delete(id bytecode.SlotID) error {
	if err := b.alloc.Release(id); err != nil {
		return b.located(err)
	}
	b.emit(bytecode.OpDel, bytecode.SlotWord(id))
	return nil
}

// ---------------------------------------------------------------------------
// Literals and conversions
// ---------------------------------------------------------------------------

// Num emits a number literal, one digit word per decimal digit.
func (b *Builder) Num(value uint64, dst Dest) (bytecode.SlotID, error) {
	id, err := b.target(dst)
	if err != nil {
		return 0, err
	}
	digits := strconv.FormatUint(value, 10)
	words := make([]bytecode.Word, 0, len(digits)+1)
	words = append(words, bytecode.SlotWord(id))
	for _, c := range digits {
		words = append(words, bytecode.DigitWord(int(c-'0')))
	}
	b.emit(bytecode.OpNum, words...)
	return id, nil
}

// Text emits a text literal. The text goes into the string table under
// the destination id; an overwritten destination that already keys an
// entry gets a fresh key instead.
func (b *Builder) Text(s string, dst Dest) (bytecode.SlotID, error) {
	id, err := b.target(dst)
	if err != nil {
		return 0, err
	}
	key := id
	if _, taken := b.stream.Text(key); taken {
		key = b.alloc.AllocateFresh()
	}
	b.stream.SetString(key, s)
	b.emit(bytecode.OpStr, bytecode.SlotWord(id), bytecode.TextWord(key))
	return id, nil
}

// CastNum emits a conversion of src to a number.
func (b *Builder) CastNum(src bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpCastNum, dst, src)
}

// CastText emits a conversion of src to text.
func (b *Builder) CastText(src bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpCastStr, dst, src)
}

// FormatNum emits a fixed-precision rendering of num.
func (b *Builder) FormatNum(num, precision bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpFmtNum, dst, num, precision)
}

// Format emits a substitution of args into template.
func (b *Builder) Format(template bytecode.SlotID, args []bytecode.SlotID, dst Dest) (bytecode.SlotID, error) {
	srcs := make([]bytecode.SlotID, 0, len(args)+1)
	srcs = append(srcs, template)
	srcs = append(srcs, args...)
	return b.result(bytecode.OpFmt, dst, srcs...)
}

// ---------------------------------------------------------------------------
// I/O
// ---------------------------------------------------------------------------

// ReadLine emits a read of one input line into dst.
func (b *Builder) ReadLine(dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpStdin, dst)
}

// Write emits output of src.
func (b *Builder) Write(src bytecode.SlotID) error {
	if err := b.alloc.Guard(src); err != nil {
		return b.located(err)
	}
	b.emit(bytecode.OpStdout, bytecode.SlotWord(src))
	return nil
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

// Block emits a jump target declaration.
func (b *Builder) Block(dst Dest) (bytecode.SlotID, error) {
	return b.result(bytecode.OpBlock, dst)
}

func (b *Builder) targetWord(target Operand) (bytecode.Word, error) {
	if target.IsPending() {
		return bytecode.PendingWord(target.Name()), nil
	}
	if err := b.alloc.Guard(target.ID()); err != nil {
		return bytecode.Word{}, b.located(err)
	}
	return bytecode.SlotWord(target.ID()), nil
}

// Jump emits an unconditional jump.
func (b *Builder) Jump(target Operand) error {
	w, err := b.targetWord(target)
	if err != nil {
		return err
	}
	b.emit(bytecode.OpJump, w)
	return nil
}

// CondJump emits a jump taken when cond is truthy.
func (b *Builder) CondJump(target Operand, cond bytecode.SlotID) error {
	w, err := b.targetWord(target)
	if err != nil {
		return err
	}
	if err := b.alloc.Guard(cond); err != nil {
		return b.located(err)
	}
	b.emit(bytecode.OpCondJump, w, bytecode.SlotWord(cond))
	return nil
}

func (b *Builder) BeginScope() {
	b.emit(bytecode.OpBeginScope)
}

func (b *Builder) EndScope() {
	b.emit(bytecode.OpEndScope)
}

// Start emits the marker that ends the prelude.
func (b *Builder) Start() {
	b.emit(bytecode.OpStart)
}

// Finish returns the assembled stream. A stream that still holds pending
// jump targets is rejected; call Resolve first.
func (b *Builder) Finish() (*bytecode.Stream, error) {
	if pending := b.stream.PendingOffsets(); len(pending) > 0 {
		w := b.stream.Words[pending[0]]
		e := bytecode.Errorf(bytecode.KindProgramMalformed, 0, "stream still holds %d pending reference(s)", len(pending)).
			At(pending[0]).OnLine(b.stream.LineAt(pending[0]))
		e.Label = w.Name
		return nil, e
	}
	log.Debugf("assembled %d words, %d strings, %d ids", b.stream.Len(), len(b.stream.Strings), b.alloc.Issued())
	return b.stream, nil
}
