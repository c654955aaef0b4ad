package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", int(op))
		}
		if info.Syntax == "" || info.Doc == "" {
			t.Errorf("%s is missing syntax or doc", info.Name)
		}
	}
}

func TestOpcodesSitInReservedRange(t *testing.T) {
	for _, op := range AllOpcodes() {
		if int(op) <= MaxDigit || !IsReserved(int(op)) {
			t.Errorf("%s = 0x%02X is outside the opcode range", op, int(op))
		}
	}
	if int(OpEnd) <= MaxDigit {
		t.Errorf("END must not collide with digits")
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpAlloca, "ALLOCA"},
		{OpAdd, "ADD"},
		{OpCondJump, "COND_JUMP"},
		{OpFmtNum, "FMT_NUM"},
		{OpBeginScope, "BEGIN_SCOPE"},
		{OpStart, "START"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", int(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0x31)
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.Valid() {
		t.Error("0x31 should not be valid")
	}
	if OpEnd.Valid() {
		t.Error("END is a terminator, not an instruction")
	}
}

func TestLookupOpcode(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := LookupOpcode(op.String())
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = %v, %v", op.String(), got, ok)
		}
	}
	if _, ok := LookupOpcode("END"); ok {
		t.Error("END must not be a source mnemonic")
	}
	if _, ok := LookupOpcode("add"); ok {
		t.Error("mnemonics are case sensitive")
	}
}

func TestOnlyJumpIsUnterminated(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if op == OpJump && info.Terminated {
			t.Error("JUMP must not carry a terminator")
		}
		if op != OpJump && !info.Terminated {
			t.Errorf("%s must be terminated", op)
		}
	}
}

func TestPreludeOpcodes(t *testing.T) {
	want := map[Opcode]bool{OpAlloca: true, OpNum: true, OpStr: true}
	for _, op := range AllOpcodes() {
		if GetOpcodeInfo(op).Prelude != want[op] {
			t.Errorf("%s prelude = %v, want %v", op, !want[op], want[op])
		}
	}
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		v    int
		want bool
	}{
		{0, true},
		{9, true},
		{int(OpEnd), true},
		{MaxReserved, true},
		{MaxReserved + 1, false},
		{1000, false},
		{-1, true},
	}
	for _, tt := range tests {
		if got := IsReserved(tt.v); got != tt.want {
			t.Errorf("IsReserved(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestMnemonicsSorted(t *testing.T) {
	names := Mnemonics()
	if len(names) != len(AllOpcodes()) {
		t.Fatalf("got %d mnemonics for %d opcodes", len(names), len(AllOpcodes()))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("mnemonics not sorted at %d: %q > %q", i, names[i-1], names[i])
		}
	}
}
