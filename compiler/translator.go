// Package compiler translates slotvm assembly source into an instruction
// stream. It maps source names to slot ids, calls the assembler in source
// order and resolves forward jumps once every block is known.
package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/slotvm/pkg/asm"
	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("slotvm.compiler")

// SymbolKind distinguishes the two source namespaces.
type SymbolKind int

const (
	SymbolVariable SymbolKind = iota
	SymbolBlock
)

func (k SymbolKind) String() string {
	if k == SymbolBlock {
		return "block"
	}
	return "variable"
}

// Symbol is a source name and where it appears.
type Symbol struct {
	Name string
	Kind SymbolKind
	ID   bytecode.SlotID
	Line int   // defining line, 0 for a block that is never declared
	Refs []int // every line that mentions the name, in order
}

// Program is the result of a translation.
type Program struct {
	Stream *bytecode.Stream // nil when translation failed
	Vars   map[string]*Symbol
	Blocks map[string]*Symbol
	Errors ErrorList
}

// Symbol looks a name up, variables first.
func (p *Program) Symbol(name string) (*Symbol, bool) {
	if sym, ok := p.Vars[name]; ok {
		return sym, true
	}
	sym, ok := p.Blocks[name]
	return sym, ok
}

// Translator turns source lines into builder calls.
type Translator struct {
	b    *asm.Builder
	live map[string]bytecode.SlotID // variables currently bound
	gone map[string]int             // deleted variables, by line of the DEL
	prog *Program
	errs ErrorList
}

// NewTranslator creates a translator with an empty program.
func NewTranslator() *Translator {
	return &Translator{
		b:    asm.NewBuilder(),
		live: make(map[string]bytecode.SlotID),
		gone: make(map[string]int),
		prog: &Program{
			Vars:   make(map[string]*Symbol),
			Blocks: make(map[string]*Symbol),
		},
	}
}

// Compile translates a whole source text.
func Compile(src string) (*Program, error) {
	t := NewTranslator()
	for i, line := range strings.Split(src, "\n") {
		t.Line(i+1, line)
	}
	return t.Finish()
}

// Line translates one source line. A failing line is recorded and
// skipped so later lines are still checked; the error is also returned.
func (t *Translator) Line(lineNo int, text string) error {
	if IsComment(text) {
		return nil
	}
	toks, err := Tokenize(text, lineNo)
	if err != nil {
		return t.fail(lineNo, err)
	}
	t.b.SetLine(lineNo)
	if err := t.instruction(lineNo, toks); err != nil {
		return t.fail(lineNo, err)
	}
	return nil
}

func (t *Translator) fail(lineNo int, err error) error {
	var ce *Error
	if !errors.As(err, &ce) {
		ce = &Error{Line: lineNo, Msg: err.Error(), Err: err}
	}
	t.errs = append(t.errs, ce)
	return ce
}

// Finish resolves forward jumps and returns the program. On error the
// program still carries every symbol seen, for editor tooling.
func (t *Translator) Finish() (*Program, error) {
	err := t.b.Resolve(func(name string) (bytecode.SlotID, bool) {
		sym, ok := t.prog.Blocks[name]
		if !ok || sym.Line == 0 {
			return 0, false
		}
		return sym.ID, true
	})
	if err != nil {
		t.fail(lineOf(err), err)
	}

	if len(t.errs) == 0 {
		stream, err := t.b.Finish()
		if err != nil {
			t.fail(lineOf(err), err)
		} else {
			t.prog.Stream = stream
		}
	}

	t.prog.Errors = t.errs
	if len(t.errs) > 0 {
		return t.prog, t.errs
	}
	log.Debugf("translated %d variable(s), %d block(s) into %d words",
		len(t.prog.Vars), len(t.prog.Blocks), t.prog.Stream.Len())
	return t.prog, nil
}

func lineOf(err error) int {
	var be *bytecode.Error
	if errors.As(err, &be) {
		return be.Line
	}
	return 0
}

// operandRange returns how many source operands an instruction takes.
// hi is -1 for a variable argument list.
func operandRange(op bytecode.Opcode) (lo, hi int) {
	switch op {
	case bytecode.OpAlloca:
		return 1, 2
	case bytecode.OpNum:
		return 2, 2
	case bytecode.OpFmt:
		return 2, -1
	}
	n := len(bytecode.GetOpcodeInfo(op).Operands)
	return n, n
}

func (t *Translator) instruction(lineNo int, toks []Token) error {
	head := toks[0]
	if head.Quoted {
		return &Error{Line: lineNo, Column: head.Column, Msg: "expected instruction, found string literal"}
	}
	op, ok := bytecode.LookupOpcode(head.Text)
	if !ok {
		return &Error{Line: lineNo, Column: head.Column, Msg: fmt.Sprintf("unknown instruction %q", head.Text)}
	}

	args := toks[1:]
	lo, hi := operandRange(op)
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		want := strconv.Itoa(lo)
		switch {
		case hi < 0:
			want = fmt.Sprintf("at least %d", lo)
		case hi != lo:
			want = fmt.Sprintf("%d to %d", lo, hi)
		}
		return &Error{Line: lineNo, Column: head.Column,
			Msg: fmt.Sprintf("%s takes %s operand(s), got %d", op, want, len(args))}
	}
	for i, a := range args {
		if a.Quoted && !(op == bytecode.OpStr && i == 1) {
			return &Error{Line: lineNo, Column: a.Column, Msg: "string literal is only allowed as the text of STR"}
		}
	}

	switch op {
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpExp,
		bytecode.OpEq, bytecode.OpNeq, bytecode.OpGt, bytecode.OpLt, bytecode.OpGte, bytecode.OpLte:
		lhs, err := t.use(lineNo, args[1])
		if err != nil {
			return err
		}
		rhs, err := t.use(lineNo, args[2])
		if err != nil {
			return err
		}
		id, err := t.binary(op)(lhs, rhs, t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpAlloca:
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1].Text)
			if err != nil {
				return &Error{Line: lineNo, Column: args[1].Column, Msg: fmt.Sprintf("invalid slot id %q", args[1].Text)}
			}
			id, err := t.b.AllocateExplicit(bytecode.SlotID(n))
			if err != nil {
				return err
			}
			t.bind(lineNo, args[0], id)
			break
		}
		id, err := t.b.Allocate(t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpStore:
		src, err := t.use(lineNo, args[1])
		if err != nil {
			return err
		}
		dst, ok := t.live[args[0].Text]
		if !ok {
			dst = t.b.Allocator().AllocateFresh()
		}
		if _, err := t.b.Store(dst, src); err != nil {
			return err
		}
		t.bind(lineNo, args[0], dst)

	case bytecode.OpDel:
		name := args[0].Text
		if at, ok := t.gone[name]; ok {
			return &Error{Line: lineNo, Column: args[0].Column, Err: bytecode.ErrDoubleRelease,
				Msg: fmt.Sprintf("variable %q already deleted on line %d", name, at)}
		}
		id, err := t.use(lineNo, args[0])
		if err != nil {
			return err
		}
		if err := t.b.Delete(id); err != nil {
			return err
		}
		delete(t.live, name)
		t.gone[name] = lineNo

	case bytecode.OpNum:
		v, err := strconv.ParseUint(args[1].Text, 10, 64)
		if err != nil {
			return &Error{Line: lineNo, Column: args[1].Column, Msg: fmt.Sprintf("invalid number literal %q", args[1].Text)}
		}
		id, err := t.b.Num(v, t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpStr:
		id, err := t.b.Text(args[1].Text, t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpCastNum, bytecode.OpCastStr:
		src, err := t.use(lineNo, args[1])
		if err != nil {
			return err
		}
		cast := t.b.CastNum
		if op == bytecode.OpCastStr {
			cast = t.b.CastText
		}
		id, err := cast(src, t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpFmtNum:
		num, err := t.use(lineNo, args[1])
		if err != nil {
			return err
		}
		prec, err := t.use(lineNo, args[2])
		if err != nil {
			return err
		}
		id, err := t.b.FormatNum(num, prec, t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpFmt:
		tmpl, err := t.use(lineNo, args[1])
		if err != nil {
			return err
		}
		vals := make([]bytecode.SlotID, 0, len(args)-2)
		for _, a := range args[2:] {
			id, err := t.use(lineNo, a)
			if err != nil {
				return err
			}
			vals = append(vals, id)
		}
		id, err := t.b.Format(tmpl, vals, t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpStdin:
		id, err := t.b.ReadLine(t.dest(args[0]))
		if err != nil {
			return err
		}
		t.bind(lineNo, args[0], id)

	case bytecode.OpStdout:
		src, err := t.use(lineNo, args[0])
		if err != nil {
			return err
		}
		return t.b.Write(src)

	case bytecode.OpBlock:
		return t.declareBlock(lineNo, args[0])

	case bytecode.OpJump:
		return t.b.Jump(t.jumpTarget(lineNo, args[0]))

	case bytecode.OpCondJump:
		cond, err := t.use(lineNo, args[1])
		if err != nil {
			return err
		}
		return t.b.CondJump(t.jumpTarget(lineNo, args[0]), cond)

	case bytecode.OpBeginScope:
		t.b.BeginScope()

	case bytecode.OpEndScope:
		t.b.EndScope()

	case bytecode.OpStart:
		t.b.Start()

	default:
		return &Error{Line: lineNo, Column: head.Column, Msg: fmt.Sprintf("%s has no source form", op)}
	}
	return nil
}

type binaryFunc func(lhs, rhs bytecode.SlotID, dst asm.Dest) (bytecode.SlotID, error)

func (t *Translator) binary(op bytecode.Opcode) binaryFunc {
	switch op {
	case bytecode.OpAdd:
		return t.b.Add
	case bytecode.OpSub:
		return t.b.Sub
	case bytecode.OpMul:
		return t.b.Mul
	case bytecode.OpDiv:
		return t.b.Div
	case bytecode.OpMod:
		return t.b.Mod
	case bytecode.OpExp:
		return t.b.Exp
	case bytecode.OpEq:
		return t.b.Eq
	case bytecode.OpNeq:
		return t.b.Neq
	case bytecode.OpGt:
		return t.b.Gt
	case bytecode.OpLt:
		return t.b.Lt
	case bytecode.OpGte:
		return t.b.Gte
	default:
		return t.b.Lte
	}
}

// dest overwrites a bound variable and creates a new binding otherwise.
func (t *Translator) dest(tok Token) asm.Dest {
	if id, ok := t.live[tok.Text]; ok {
		return asm.Overwrite(id)
	}
	return asm.NewBinding()
}

func (t *Translator) use(lineNo int, tok Token) (bytecode.SlotID, error) {
	id, ok := t.live[tok.Text]
	if !ok {
		return 0, &Error{Line: lineNo, Column: tok.Column, Msg: fmt.Sprintf("undefined variable %q", tok.Text)}
	}
	t.prog.Vars[tok.Text].Refs = append(t.prog.Vars[tok.Text].Refs, lineNo)
	return id, nil
}

func (t *Translator) bind(lineNo int, tok Token, id bytecode.SlotID) {
	t.live[tok.Text] = id
	delete(t.gone, tok.Text)
	sym, ok := t.prog.Vars[tok.Text]
	if !ok {
		sym = &Symbol{Name: tok.Text, Kind: SymbolVariable, Line: lineNo}
		t.prog.Vars[tok.Text] = sym
	}
	sym.ID = id
	sym.Refs = append(sym.Refs, lineNo)
}

func (t *Translator) blockSymbol(name string) *Symbol {
	sym, ok := t.prog.Blocks[name]
	if !ok {
		sym = &Symbol{Name: name, Kind: SymbolBlock}
		t.prog.Blocks[name] = sym
	}
	return sym
}

func (t *Translator) declareBlock(lineNo int, tok Token) error {
	sym := t.blockSymbol(tok.Text)
	if sym.Line > 0 {
		return &Error{Line: lineNo, Column: tok.Column,
			Msg: fmt.Sprintf("block %q already declared on line %d", tok.Text, sym.Line)}
	}
	id, err := t.b.Block(asm.NewBinding())
	if err != nil {
		return err
	}
	sym.ID = id
	sym.Line = lineNo
	sym.Refs = append(sym.Refs, lineNo)
	return nil
}

// jumpTarget resolves a block name now if it is declared, and defers it
// otherwise.
func (t *Translator) jumpTarget(lineNo int, tok Token) asm.Operand {
	sym := t.blockSymbol(tok.Text)
	sym.Refs = append(sym.Refs, lineNo)
	if sym.Line > 0 {
		return asm.Resolved(sym.ID)
	}
	return asm.Pending(tok.Text)
}
