package compiler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/chazu/slotvm/pkg/exec"
)

func run(t *testing.T, src, stdin string) string {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var out bytes.Buffer
	err = exec.Run(context.Background(), prog.Stream, exec.Options{
		Stdin:  strings.NewReader(stdin),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

const arithmetic = `# 66 * (66 + (66 % 77))
NUM a 66
NUM b 77
STR t "66 * (66 + (66 % 77)) = {}\n"
START
MOD m a b
MUL p a m
ADD r a p
FMT o t r
STDOUT o
`

func TestCompileArithmetic(t *testing.T) {
	if got, want := run(t, arithmetic, ""), "66 * (66 + (66 % 77)) = 4422\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestCompileJumps(t *testing.T) {
	src := `NUM i 0
NUM one 1
NUM three 3
STR never "never"
START
JUMP body
STDOUT never
BLOCK body
ADD i i one
STDOUT i
LT more i three
COND_JUMP body more
`
	if got := run(t, src, ""); got != "123" {
		t.Errorf("output = %q, want 123", got)
	}
}

func TestCompileForwardReferenceIsResolved(t *testing.T) {
	prog, err := Compile("START\nJUMP end\nBLOCK end\n")
	if err != nil {
		t.Fatal(err)
	}
	if offs := prog.Stream.PendingOffsets(); len(offs) != 0 {
		t.Errorf("pending words left at %v", offs)
	}
	end := prog.Blocks["end"]
	if end == nil || end.Line != 3 {
		t.Fatalf("block symbol = %+v", end)
	}
	recs, err := prog.Stream.Records()
	if err != nil {
		t.Fatal(err)
	}
	if recs[1].Op != bytecode.OpJump || recs[1].Slot(0) != end.ID {
		t.Errorf("jump record = %+v, want target %d", recs[1], end.ID)
	}
	if want := []int{2, 3}; len(end.Refs) != 2 || end.Refs[0] != want[0] || end.Refs[1] != want[1] {
		t.Errorf("refs = %v, want %v", end.Refs, want)
	}
}

func TestCompileStdin(t *testing.T) {
	src := `STR hello "hello, {}!"
START
STDIN name
FMT msg hello name
STDOUT msg
`
	if got := run(t, src, "world\n"); got != "hello, world!" {
		t.Errorf("output = %q", got)
	}
}

func TestCompileOverwrite(t *testing.T) {
	prog, err := Compile("NUM a 1\nNUM a 2\nSTART\nADD a a a\n")
	if err != nil {
		t.Fatal(err)
	}
	recs, err := prog.Stream.Records()
	if err != nil {
		t.Fatal(err)
	}
	id := prog.Vars["a"].ID
	for _, r := range recs {
		if r.Op != bytecode.OpStart && r.Slot(0) != id {
			t.Errorf("%s writes slot %d, want %d", r.Op, r.Slot(0), id)
		}
	}
	if got := prog.Vars["a"].Refs; len(got) != 5 {
		t.Errorf("refs = %v, want five mentions", got)
	}
}

func TestCompileDeleteAndRebind(t *testing.T) {
	prog, err := Compile("NUM a 1\nDEL a\nNUM a 2\nDEL a\n")
	if err != nil {
		t.Fatal(err)
	}
	recs, err := prog.Stream.Records()
	if err != nil {
		t.Fatal(err)
	}
	first, last := recs[0].Slot(0), recs[2].Slot(0)
	if first == last {
		t.Errorf("rebinding after DEL reused released slot %d", first)
	}
	if prog.Vars["a"].ID != last {
		t.Errorf("symbol id = %d, want %d", prog.Vars["a"].ID, last)
	}
}

func TestCompileStore(t *testing.T) {
	if got := run(t, "NUM a 5\nSTART\nSTORE b a\nSTDOUT b\n", ""); got != "5" {
		t.Errorf("output = %q, want 5", got)
	}
}

func TestCompileExplicitAlloca(t *testing.T) {
	prog, err := Compile("ALLOCA x 100\n")
	if err != nil {
		t.Fatal(err)
	}
	if prog.Vars["x"].ID != 100 {
		t.Errorf("x = %d, want 100", prog.Vars["x"].ID)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
		kind error
	}{
		{"unknown instruction", "FOO a", 1, `unknown instruction "FOO"`, nil},
		{"undefined variable", "NUM a 1\nADD r a b", 2, `undefined variable "b"`, nil},
		{"bad number", "NUM a x", 1, "invalid number literal", nil},
		{"negative number", "NUM a -1", 1, "invalid number literal", nil},
		{"arity", "NUM a", 1, "NUM takes 2 operand(s), got 1", nil},
		{"arity range", "ALLOCA a 100 3", 1, "ALLOCA takes 1 to 2 operand(s)", nil},
		{"variadic arity", "FMT o", 1, "FMT takes at least 2 operand(s)", nil},
		{"quoted name", `STR "a" "b"`, 1, "string literal is only allowed", nil},
		{"unterminated", `STR t "open`, 1, "unterminated string literal", nil},
		{"duplicate block", "START\nBLOCK x\nBLOCK x", 3, `block "x" already declared on line 2`, nil},
		{"undeclared block", "START\nJUMP nowhere", 2, "never declared", bytecode.ErrUnresolvedLabel},
		{"reserved id", "ALLOCA a 3", 1, "", bytecode.ErrReservedID},
		{"duplicate id", "ALLOCA a 100\nALLOCA b 100", 2, "", bytecode.ErrDuplicateID},
		{"double delete", "NUM a 1\nDEL a\nDEL a", 3, `"a" already deleted on line 2`, bytecode.ErrDoubleRelease},
		{"use after delete", "NUM a 1\nDEL a\nSTART\nSTDOUT a", 4, `undefined variable "a"`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Compile(tt.src)
			if err == nil {
				t.Fatal("Compile succeeded")
			}
			if prog.Stream != nil {
				t.Error("failed translation produced a stream")
			}
			var list ErrorList
			if !errors.As(err, &list) || len(list) != 1 {
				t.Fatalf("error = %v, want one entry", err)
			}
			if list[0].Line != tt.line {
				t.Errorf("line = %d, want %d (%v)", list[0].Line, tt.line, list[0])
			}
			if !strings.Contains(list[0].Msg, tt.msg) {
				t.Errorf("message = %q, want it to contain %q", list[0].Msg, tt.msg)
			}
			if tt.kind != nil && !errors.Is(err, tt.kind) {
				t.Errorf("error = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestCompileKeepsGoingAfterErrors(t *testing.T) {
	prog, err := Compile("FOO\nNUM a 1\nBAR\nSTDOUT a\nSTDOUT b\n")
	var list ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("error = %v, want ErrorList", err)
	}
	lines := make([]int, len(list))
	for i, e := range list {
		lines[i] = e.Line
	}
	if len(lines) != 3 || lines[0] != 1 || lines[1] != 3 || lines[2] != 5 {
		t.Errorf("error lines = %v, want [1 3 5]", lines)
	}
	if !strings.HasSuffix(err.Error(), "(and 2 more)") {
		t.Errorf("Error() = %q", err.Error())
	}
	if sym := prog.Vars["a"]; sym == nil || len(sym.Refs) != 2 {
		t.Errorf("symbol a = %+v, want two refs despite errors", sym)
	}
}
