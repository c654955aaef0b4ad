package bytecode

import (
	"fmt"
	"sort"
)

// Opcode represents a stream instruction.
// Values sit in the reserved range above the ten literal digits.
type Opcode int

const (
	// ========================================================================
	// Framing (0x0A)
	// ========================================================================

	OpEnd Opcode = 0x0A // Record terminator

	// ========================================================================
	// Memory (0x0B-0x0D)
	// ========================================================================

	OpAlloca Opcode = 0x0B // Bind empty value: ALLOCA <dst>
	OpStore  Opcode = 0x0C // Copy value: STORE <dst> <src>
	OpDel    Opcode = 0x0D // Remove binding: DEL <id>

	// ========================================================================
	// Arithmetic (0x0E-0x12, 0x1E)
	// ========================================================================

	OpAdd Opcode = 0x0E // ADD <dst> <lhs> <rhs>
	OpSub Opcode = 0x0F // SUB <dst> <lhs> <rhs>
	OpMul Opcode = 0x10 // MUL <dst> <lhs> <rhs>
	OpDiv Opcode = 0x11 // DIV <dst> <lhs> <rhs>
	OpMod Opcode = 0x12 // MOD <dst> <lhs> <rhs>

	// ========================================================================
	// Control flow (0x13-0x15)
	// ========================================================================

	OpJump     Opcode = 0x13 // JUMP <block> (no terminator)
	OpBlock    Opcode = 0x14 // Declare jump target: BLOCK <block>
	OpCondJump Opcode = 0x15 // COND_JUMP <block> <cond>

	// ========================================================================
	// Comparison (0x16-0x1A, 0x23)
	// ========================================================================

	OpEq  Opcode = 0x16 // EQ <dst> <lhs> <rhs>
	OpGt  Opcode = 0x17 // GT <dst> <lhs> <rhs>
	OpLt  Opcode = 0x18 // LT <dst> <lhs> <rhs>
	OpGte Opcode = 0x19 // GTE <dst> <lhs> <rhs>
	OpLte Opcode = 0x1A // LTE <dst> <lhs> <rhs>

	// ========================================================================
	// Literals and I/O (0x1B-0x1F)
	// ========================================================================

	OpNum    Opcode = 0x1B // NUM <dst> <digit>...
	OpStdout Opcode = 0x1C // STDOUT <src>
	OpStdin  Opcode = 0x1D // STDIN <dst>
	OpExp    Opcode = 0x1E // EXP <dst> <lhs> <rhs>
	OpStr    Opcode = 0x1F // STR <dst> <text>

	// ========================================================================
	// Formatting, scopes, casts (0x20-0x27)
	// ========================================================================

	OpFmt        Opcode = 0x20 // FMT <dst> <template> <arg>...
	OpBeginScope Opcode = 0x21 // Push scope
	OpEndScope   Opcode = 0x22 // Pop scope
	OpNeq        Opcode = 0x23 // NEQ <dst> <lhs> <rhs>
	OpCastNum    Opcode = 0x24 // CAST_NUM <dst> <src>
	OpCastStr    Opcode = 0x25 // CAST_STR <dst> <src>
	OpFmtNum     Opcode = 0x26 // FMT_NUM <dst> <num> <precision>
	OpStart      Opcode = 0x27 // End of prelude
)

const (
	// MaxDigit is the largest value a WordDigit may carry.
	MaxDigit = 9

	// MaxReserved is the top of the range shared by digits, the terminator
	// and opcodes. Slot ids start above it.
	MaxReserved = 0x32
)

// OpcodeInfo provides metadata about each opcode for decoding, validation
// and editor tooling.
type OpcodeInfo struct {
	Name       string     // Mnemonic used by the source language
	Operands   []WordKind // Fixed operand layout
	Repeat     WordKind   // Kind of the trailing variable run (WordNone = fixed arity)
	Terminated bool       // Record ends with OpEnd
	Prelude    bool       // Honored before START
	Result     bool       // First operand is a destination slot
	Syntax     string     // Source-level operand shape
	Doc        string     // One-line description
}

// Variadic reports whether the record carries a variable-length operand run.
func (i OpcodeInfo) Variadic() bool {
	return i.Repeat != WordNone
}

var (
	slot1 = []WordKind{WordSlot}
	slot2 = []WordKind{WordSlot, WordSlot}
	slot3 = []WordKind{WordSlot, WordSlot, WordSlot}
)

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpEnd: {Name: "END"},

	// Memory
	OpAlloca: {Name: "ALLOCA", Operands: slot1, Terminated: true, Prelude: true, Result: true,
		Syntax: "ALLOCA name [id]", Doc: "Bind name to an empty value in the innermost scope."},
	OpStore: {Name: "STORE", Operands: slot2, Terminated: true,
		Syntax: "STORE dst src", Doc: "Copy the value of src into dst."},
	OpDel: {Name: "DEL", Operands: slot1, Terminated: true,
		Syntax: "DEL name", Doc: "Remove the binding from whichever scope holds it."},

	// Arithmetic
	OpAdd: {Name: "ADD", Operands: slot3, Terminated: true, Result: true,
		Syntax: "ADD dst a b", Doc: "dst = a + b; two texts concatenate."},
	OpSub: {Name: "SUB", Operands: slot3, Terminated: true, Result: true,
		Syntax: "SUB dst a b", Doc: "dst = a - b"},
	OpMul: {Name: "MUL", Operands: slot3, Terminated: true, Result: true,
		Syntax: "MUL dst a b", Doc: "dst = a * b"},
	OpDiv: {Name: "DIV", Operands: slot3, Terminated: true, Result: true,
		Syntax: "DIV dst a b", Doc: "dst = a / b"},
	OpMod: {Name: "MOD", Operands: slot3, Terminated: true, Result: true,
		Syntax: "MOD dst a b", Doc: "dst = a mod b, with the sign of b."},
	OpExp: {Name: "EXP", Operands: slot3, Terminated: true, Result: true,
		Syntax: "EXP dst a b", Doc: "dst = a raised to b"},

	// Control flow
	OpJump: {Name: "JUMP", Operands: slot1,
		Syntax: "JUMP block", Doc: "Continue after the declaration of block."},
	OpBlock: {Name: "BLOCK", Operands: slot1, Terminated: true, Result: true,
		Syntax: "BLOCK name", Doc: "Declare a jump target."},
	OpCondJump: {Name: "COND_JUMP", Operands: slot2, Terminated: true,
		Syntax: "COND_JUMP block cond", Doc: "Jump to block when cond is truthy."},

	// Comparison
	OpEq: {Name: "EQ", Operands: slot3, Terminated: true, Result: true,
		Syntax: "EQ dst a b", Doc: "dst = a == b"},
	OpNeq: {Name: "NEQ", Operands: slot3, Terminated: true, Result: true,
		Syntax: "NEQ dst a b", Doc: "dst = a != b"},
	OpGt: {Name: "GT", Operands: slot3, Terminated: true, Result: true,
		Syntax: "GT dst a b", Doc: "dst = a > b"},
	OpLt: {Name: "LT", Operands: slot3, Terminated: true, Result: true,
		Syntax: "LT dst a b", Doc: "dst = a < b"},
	OpGte: {Name: "GTE", Operands: slot3, Terminated: true, Result: true,
		Syntax: "GTE dst a b", Doc: "dst = a >= b"},
	OpLte: {Name: "LTE", Operands: slot3, Terminated: true, Result: true,
		Syntax: "LTE dst a b", Doc: "dst = a <= b"},

	// Literals and I/O
	OpNum: {Name: "NUM", Operands: slot1, Repeat: WordDigit, Terminated: true, Prelude: true, Result: true,
		Syntax: "NUM dst digits", Doc: "Bind a non-negative decimal number."},
	OpStr: {Name: "STR", Operands: []WordKind{WordSlot, WordText}, Terminated: true, Prelude: true, Result: true,
		Syntax: `STR dst "text"`, Doc: "Bind a text literal."},
	OpStdout: {Name: "STDOUT", Operands: slot1, Terminated: true,
		Syntax: "STDOUT src", Doc: "Write the value as text to standard output."},
	OpStdin: {Name: "STDIN", Operands: slot1, Terminated: true, Result: true,
		Syntax: "STDIN dst", Doc: "Read one line of standard input as text."},

	// Formatting and casts
	OpFmt: {Name: "FMT", Operands: slot2, Repeat: WordSlot, Terminated: true, Result: true,
		Syntax: "FMT dst template arg...", Doc: "Substitute args into the {} placeholders of template."},
	OpFmtNum: {Name: "FMT_NUM", Operands: slot3, Terminated: true, Result: true,
		Syntax: "FMT_NUM dst num precision", Doc: "Render num with a fixed number of decimals."},
	OpCastNum: {Name: "CAST_NUM", Operands: slot2, Terminated: true, Result: true,
		Syntax: "CAST_NUM dst src", Doc: "Convert src to a number."},
	OpCastStr: {Name: "CAST_STR", Operands: slot2, Terminated: true, Result: true,
		Syntax: "CAST_STR dst src", Doc: "Convert src to text."},

	// Scopes and layout
	OpBeginScope: {Name: "BEGIN_SCOPE", Terminated: true,
		Syntax: "BEGIN_SCOPE", Doc: "Push a new innermost scope."},
	OpEndScope: {Name: "END_SCOPE", Terminated: true,
		Syntax: "END_SCOPE", Doc: "Pop the innermost scope and its bindings."},
	OpStart: {Name: "START", Terminated: true,
		Syntax: "START", Doc: "End of the prelude; every instruction runs after this."},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		if op != OpEnd {
			m[info.Name] = op
		}
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", int(op))}
}

// LookupOpcode returns the opcode for a source mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode other than the terminator.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok && op != OpEnd
}

// IsJump returns true for JUMP and COND_JUMP.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpCondJump
}

// IsReserved reports whether v falls in the range that slot ids may not use.
func IsReserved(v int) bool {
	return v <= MaxReserved
}

// Mnemonics returns every source mnemonic, sorted.
func Mnemonics() []string {
	names := make([]string, 0, len(opcodeByName))
	for name := range opcodeByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllOpcodes returns every defined opcode except the terminator, in
// ascending order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		if op != OpEnd {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
