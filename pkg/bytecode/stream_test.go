package bytecode

import (
	"errors"
	"reflect"
	"testing"
)

// sampleStream builds: NUM $51 6 6 ; STR $52 &52 ; START ; STDOUT $52 ; JUMP $53 ; BLOCK $53
func sampleStream() *Stream {
	s := NewStream()
	s.AddSourceLine(s.Emit(OpNum, SlotWord(51), DigitWord(6), DigitWord(6)), 1)
	s.SetString(52, "hi")
	s.AddSourceLine(s.Emit(OpStr, SlotWord(52), TextWord(52)), 2)
	s.AddSourceLine(s.Emit(OpStart), 3)
	s.AddSourceLine(s.Emit(OpStdout, SlotWord(52)), 4)
	s.AddSourceLine(s.Emit(OpJump, SlotWord(53)), 5)
	s.AddSourceLine(s.Emit(OpBlock, SlotWord(53)), 6)
	return s
}

func TestEmitFraming(t *testing.T) {
	s := NewStream()
	off := s.Emit(OpAdd, SlotWord(60), SlotWord(61), SlotWord(62))
	if off != 0 {
		t.Errorf("first offset = %d, want 0", off)
	}
	if s.Len() != 5 || !s.Words[4].IsEnd() {
		t.Fatalf("ADD record = %v, want 5 words ending in END", s.Words)
	}

	off = s.Emit(OpJump, SlotWord(63))
	if off != 5 || s.Len() != 7 {
		t.Errorf("JUMP record should be 2 words at offset 5, got offset %d len %d", off, s.Len())
	}
	if s.Words[6].IsEnd() {
		t.Error("JUMP must not be terminated")
	}
}

func TestDecodeRecords(t *testing.T) {
	s := sampleStream()
	records, err := s.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	var ops []Opcode
	for _, r := range records {
		ops = append(ops, r.Op)
	}
	want := []Opcode{OpNum, OpStr, OpStart, OpStdout, OpJump, OpBlock}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}

	if records[0].Len != 5 || len(records[0].Operands) != 3 {
		t.Errorf("NUM record = %+v", records[0])
	}
	if records[2].Len != 2 {
		t.Errorf("START record len = %d, want 2", records[2].Len)
	}
	if records[4].Len != 2 || records[4].Slot(0) != 53 {
		t.Errorf("JUMP record = %+v", records[4])
	}
}

func TestDecodeRecordMalformed(t *testing.T) {
	tests := []struct {
		name  string
		words []Word
	}{
		{"stray terminator", []Word{OpWord(OpEnd)}},
		{"slot where opcode expected", []Word{SlotWord(60)}},
		{"truncated", []Word{OpWord(OpAdd), SlotWord(60)}},
		{"missing end", []Word{OpWord(OpStore), SlotWord(60), SlotWord(61), SlotWord(62)}},
		{"digit as slot", []Word{OpWord(OpStdout), DigitWord(3), OpWord(OpEnd)}},
		{"num without digits", []Word{OpWord(OpNum), SlotWord(60), OpWord(OpEnd)}},
		{"slot inside digits", []Word{OpWord(OpNum), SlotWord(60), DigitWord(1), SlotWord(61), OpWord(OpEnd)}},
		{"pending outside jump", []Word{OpWord(OpStdout), PendingWord("x"), OpWord(OpEnd)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStream()
			s.Words = tt.words
			_, err := s.DecodeRecord(0)
			if !errors.Is(err, ErrProgramMalformed) {
				t.Errorf("DecodeRecord error = %v, want ProgramMalformed", err)
			}
		})
	}
}

func TestDecodeAcceptsPendingJumpTarget(t *testing.T) {
	s := NewStream()
	s.Emit(OpCondJump, PendingWord("loop"), SlotWord(70))
	rec, err := s.DecodeRecord(0)
	if err != nil {
		t.Fatalf("DecodeRecord failed: %v", err)
	}
	if rec.Operands[0].Kind != WordPending || rec.Operands[0].Name != "loop" {
		t.Errorf("target = %v, want pending loop", rec.Operands[0])
	}
	if got := s.PendingOffsets(); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("PendingOffsets = %v, want [1]", got)
	}
}

func TestLineAt(t *testing.T) {
	s := sampleStream()
	tests := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{3, 1},
		{5, 2},
		{9, 3},
		{s.Len() - 1, 6},
	}
	for _, tt := range tests {
		if got := s.LineAt(tt.offset); got != tt.want {
			t.Errorf("LineAt(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
	if got := NewStream().LineAt(0); got != 0 {
		t.Errorf("empty LineAt = %d, want 0", got)
	}
}

func TestIntsAndFromInts(t *testing.T) {
	s := sampleStream()
	ints, err := s.Ints()
	if err != nil {
		t.Fatalf("Ints failed: %v", err)
	}
	want := []int{
		0x1B, 51, 6, 6, 0x0A,
		0x1F, 52, 52, 0x0A,
		0x27, 0x0A,
		0x1C, 52, 0x0A,
		0x13, 53,
		0x14, 53, 0x0A,
	}
	if !reflect.DeepEqual(ints, want) {
		t.Fatalf("Ints = %v\nwant %v", ints, want)
	}

	back, err := FromInts(ints, s.Strings)
	if err != nil {
		t.Fatalf("FromInts failed: %v", err)
	}
	if !reflect.DeepEqual(back.Words, s.Words) {
		t.Errorf("FromInts words = %v\nwant %v", back.Words, s.Words)
	}
	if back.Words[7].Kind != WordText {
		t.Errorf("STR operand should decode as a string key, got %v", back.Words[7])
	}
}

func TestIntsRejectsPending(t *testing.T) {
	s := NewStream()
	s.Emit(OpJump, PendingWord("later"))
	_, err := s.Ints()
	if !errors.Is(err, ErrUnresolvedLabel) {
		t.Fatalf("Ints error = %v, want UnresolvedLabel", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Label != "later" {
		t.Errorf("error should name the label, got %v", err)
	}
}

func TestFromIntsErrors(t *testing.T) {
	tests := []struct {
		name string
		ints []int
		want error
	}{
		{"unknown opcode", []int{0x31}, ErrProgramMalformed},
		{"reserved slot", []int{int(OpStdout), 0x20, int(OpEnd)}, ErrReservedID},
		{"missing string", []int{int(OpStr), 60, 61, int(OpEnd)}, ErrUnknownID},
		{"bad digit", []int{int(OpNum), 60, 12, int(OpEnd)}, ErrProgramMalformed},
		{"missing end", []int{int(OpDel), 60}, ErrProgramMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromInts(tt.ints, map[SlotID]string{})
			if !errors.Is(err, tt.want) {
				t.Errorf("FromInts error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	e := Errorf(KindUnknownID, 77, "read of unbound slot").At(12).OnLine(4)
	want := "UnknownId: read of unbound slot (slot 77, offset 12, line 4)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if !errors.Is(e, ErrUnknownID) || errors.Is(e, ErrDuplicateID) {
		t.Error("Error must unwrap to its own sentinel only")
	}
	if KindOf(e) != KindUnknownID {
		t.Errorf("KindOf = %v", KindOf(e))
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf plain error should be 0")
	}
}
