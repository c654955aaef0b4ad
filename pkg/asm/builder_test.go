package asm

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/slotvm/pkg/bytecode"
)

func words(t *testing.T, b *Builder) []bytecode.Word {
	t.Helper()
	s, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return s.Words
}

func TestResultOpsNewBinding(t *testing.T) {
	b := NewBuilder()
	x, _ := b.Num(6, NewBinding())
	y, _ := b.Num(7, NewBinding())

	ops := []struct {
		name string
		op   bytecode.Opcode
		fn   func(lhs, rhs bytecode.SlotID, dst Dest) (bytecode.SlotID, error)
	}{
		{"add", bytecode.OpAdd, b.Add},
		{"sub", bytecode.OpSub, b.Sub},
		{"mul", bytecode.OpMul, b.Mul},
		{"div", bytecode.OpDiv, b.Div},
		{"mod", bytecode.OpMod, b.Mod},
		{"exp", bytecode.OpExp, b.Exp},
		{"eq", bytecode.OpEq, b.Eq},
		{"neq", bytecode.OpNeq, b.Neq},
		{"gt", bytecode.OpGt, b.Gt},
		{"lt", bytecode.OpLt, b.Lt},
		{"gte", bytecode.OpGte, b.Gte},
		{"lte", bytecode.OpLte, b.Lte},
	}

	seen := map[bytecode.SlotID]bool{x: true, y: true}
	for _, tt := range ops {
		t.Run(tt.name, func(t *testing.T) {
			start := b.Len()
			id, err := tt.fn(x, y, NewBinding())
			if err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			if seen[id] {
				t.Errorf("id %d handed out twice", id)
			}
			seen[id] = true

			want := []bytecode.Word{
				bytecode.OpWord(tt.op),
				bytecode.SlotWord(id), bytecode.SlotWord(x), bytecode.SlotWord(y),
				bytecode.OpWord(bytecode.OpEnd),
			}
			if got := b.stream.Words[start:]; !reflect.DeepEqual(got, want) {
				t.Errorf("record = %v, want %v", got, want)
			}
		})
	}
}

func TestResultOpOverwrite(t *testing.T) {
	b := NewBuilder()
	x, _ := b.Num(1, NewBinding())
	y, _ := b.Num(2, NewBinding())

	id, err := b.Add(x, y, Overwrite(x))
	if err != nil {
		t.Fatal(err)
	}
	if id != x {
		t.Errorf("overwrite returned %d, want %d", id, x)
	}
	if b.Allocator().Issued() != 2 {
		t.Errorf("overwrite must not allocate, Issued = %d", b.Allocator().Issued())
	}
}

func TestReservedOperandsRejected(t *testing.T) {
	b := NewBuilder()
	b.SetLine(9)
	x, _ := b.Num(1, NewBinding())
	before := b.Len()

	calls := []struct {
		name string
		fn   func() error
	}{
		{"operand", func() error { _, err := b.Add(x, 0x0E, NewBinding()); return err }},
		{"destination", func() error { _, err := b.Sub(x, x, Overwrite(0x20)); return err }},
		{"store", func() error { _, err := b.Store(x, 5); return err }},
		{"write", func() error { return b.Write(bytecode.MaxReserved) }},
		{"jump", func() error { return b.Jump(Resolved(0x13)) }},
		{"cond", func() error { return b.CondJump(Resolved(x), 0x0A) }},
		{"format arg", func() error { _, err := b.Format(x, []bytecode.SlotID{x, 2}, NewBinding()); return err }},
		{"explicit", func() error { _, err := b.AllocateExplicit(0x11); return err }},
	}
	for _, tt := range calls {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, bytecode.ErrReservedID) {
				t.Fatalf("error = %v, want ReservedIdViolation", err)
			}
			var e *bytecode.Error
			if errors.As(err, &e) && e.Line != 9 {
				t.Errorf("error line = %d, want 9", e.Line)
			}
		})
	}
	if b.Len() != before {
		t.Error("rejected writes must not emit words")
	}
}

func TestNumDigits(t *testing.T) {
	b := NewBuilder()
	id, err := b.Num(4022, NewBinding())
	if err != nil {
		t.Fatal(err)
	}
	want := []bytecode.Word{
		bytecode.OpWord(bytecode.OpNum),
		bytecode.SlotWord(id),
		bytecode.DigitWord(4), bytecode.DigitWord(0), bytecode.DigitWord(2), bytecode.DigitWord(2),
		bytecode.OpWord(bytecode.OpEnd),
	}
	if got := words(t, b); !reflect.DeepEqual(got, want) {
		t.Errorf("words = %v, want %v", got, want)
	}

	b = NewBuilder()
	b.Num(0, NewBinding())
	if got := words(t, b); len(got) != 4 || got[2] != bytecode.DigitWord(0) {
		t.Errorf("zero literal = %v", got)
	}
}

func TestTextUsesDestinationAsKey(t *testing.T) {
	b := NewBuilder()
	id, err := b.Text("hello", NewBinding())
	if err != nil {
		t.Fatal(err)
	}
	s, _ := b.Finish()
	if got, _ := s.Text(id); got != "hello" {
		t.Errorf("string table[%d] = %q", id, got)
	}
	if s.Words[2] != bytecode.TextWord(id) {
		t.Errorf("inline key = %v, want &%d", s.Words[2], id)
	}
}

func TestTextOverwriteGetsFreshKey(t *testing.T) {
	b := NewBuilder()
	id, _ := b.Text("first", NewBinding())
	again, err := b.Text("second", Overwrite(id))
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Fatalf("overwrite returned %d, want %d", again, id)
	}

	s, _ := b.Finish()
	records, err := s.Records()
	if err != nil {
		t.Fatal(err)
	}
	key := records[1].Operands[1].Slot()
	if key == id {
		t.Fatal("second literal reused the first key")
	}
	if got, _ := s.Text(id); got != "first" {
		t.Errorf("first entry = %q", got)
	}
	if got, _ := s.Text(key); got != "second" {
		t.Errorf("second entry = %q", got)
	}
	if !b.Allocator().Registered(key) {
		t.Error("fresh key must be registered so no value takes it")
	}
}

func TestDeleteReleases(t *testing.T) {
	b := NewBuilder()
	id, _ := b.Allocate(NewBinding())
	if err := b.Delete(id); err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(id); !errors.Is(err, bytecode.ErrDoubleRelease) {
		t.Errorf("second Delete = %v, want DoubleRelease", err)
	}
	if err := b.Delete(4000); !errors.Is(err, bytecode.ErrUnknownID) {
		t.Errorf("Delete of unknown id = %v, want UnknownId", err)
	}
}

func TestAllocateExplicitDuplicate(t *testing.T) {
	b := NewBuilder()
	if _, err := b.AllocateExplicit(100); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AllocateExplicit(100); !errors.Is(err, bytecode.ErrDuplicateID) {
		t.Errorf("duplicate explicit = %v, want DuplicateId", err)
	}
}

func TestControlRecords(t *testing.T) {
	b := NewBuilder()
	cond, _ := b.Num(1, NewBinding())
	b.Start()
	blk, _ := b.Block(NewBinding())
	b.BeginScope()
	b.CondJump(Resolved(blk), cond)
	b.EndScope()
	b.Jump(Resolved(blk))

	s, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	records, err := s.Records()
	if err != nil {
		t.Fatalf("stream does not decode: %v", err)
	}
	var ops []bytecode.Opcode
	for _, r := range records {
		ops = append(ops, r.Op)
	}
	want := []bytecode.Opcode{
		bytecode.OpNum, bytecode.OpStart, bytecode.OpBlock, bytecode.OpBeginScope,
		bytecode.OpCondJump, bytecode.OpEndScope, bytecode.OpJump,
	}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
	if last := s.Words[s.Len()-1]; last != bytecode.SlotWord(blk) {
		t.Errorf("JUMP must end the stream without a terminator, last word %v", last)
	}
}

func TestSourceLinesRecorded(t *testing.T) {
	b := NewBuilder()
	b.SetLine(3)
	b.Num(5, NewBinding())
	b.SetLine(4)
	b.Start()

	s, _ := b.Finish()
	if s.LineAt(0) != 3 || s.LineAt(s.Len()-1) != 4 {
		t.Errorf("lines = %v", s.Lines)
	}
}

func TestFinishRejectsPending(t *testing.T) {
	b := NewBuilder()
	b.SetLine(2)
	b.Jump(Pending("later"))
	_, err := b.Finish()
	if !errors.Is(err, bytecode.ErrProgramMalformed) {
		t.Fatalf("Finish = %v, want ProgramMalformed", err)
	}
	var e *bytecode.Error
	if !errors.As(err, &e) || e.Label != "later" || e.Line != 2 {
		t.Errorf("error should name label and line, got %v", err)
	}
}
