// Package exec runs an assembled instruction stream: a label pre-pass,
// then a dispatch loop over a stack of scopes.
package exec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("slotvm.exec")

// Options configures one run.
type Options struct {
	Stdin  io.Reader // defaults to os.Stdin
	Stdout io.Writer // defaults to os.Stdout

	// Trace logs every dispatched record at debug level.
	Trace bool

	// MaxSteps stops the run with StepLimit after this many dispatched
	// records. Zero means unlimited.
	MaxSteps int
}

// Executor runs one stream once. It owns its scope stack for the whole run
// and is not safe for concurrent use.
type Executor struct {
	stream *bytecode.Stream
	opts   Options

	labels LabelTable
	scopes *ScopeStack
	in     *bufio.Reader
	out    *bufio.Writer

	pc    int  // offset of the next record
	full  bool // past START
	steps int
}

// New creates an executor for stream.
func New(stream *bytecode.Stream, opts Options) *Executor {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Executor{
		stream: stream,
		opts:   opts,
		scopes: NewScopeStack(),
		in:     bufio.NewReader(opts.Stdin),
		out:    bufio.NewWriter(opts.Stdout),
	}
}

// Run executes stream with opts. It is shorthand for New(stream, opts).Run(ctx).
func Run(ctx context.Context, stream *bytecode.Stream, opts Options) error {
	return New(stream, opts).Run(ctx)
}

// Scopes returns the scope stack, for inspection after a run.
func (e *Executor) Scopes() *ScopeStack {
	return e.scopes
}

// Labels returns the label table built by the pre-pass.
func (e *Executor) Labels() LabelTable {
	return e.labels
}

// Steps returns how many records have been dispatched.
func (e *Executor) Steps() int {
	return e.steps
}

// Run performs the label pre-pass and then executes the stream to its end
// or to the first fatal error. Output written before an error is flushed.
func (e *Executor) Run(ctx context.Context) (err error) {
	labels, err := DiscoverLabels(e.stream)
	if err != nil {
		return err
	}
	e.labels = labels
	log.Debugf("pre-pass found %d block(s) in %d words", len(labels), e.stream.Len())

	defer func() {
		if ferr := e.out.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flush output: %w", ferr)
		}
	}()

	for e.pc < e.stream.Len() {
		rec, err := e.stream.DecodeRecord(e.pc)
		if err != nil {
			return err
		}
		next := e.pc + rec.Len

		if !e.full {
			// Prelude: only allocations and literals run.
			if rec.Op == bytecode.OpStart {
				e.full = true
				log.Debugf("START at offset %d", rec.Offset)
			} else if bytecode.GetOpcodeInfo(rec.Op).Prelude {
				if err := e.dispatch(rec); err != nil {
					return e.locate(err, rec)
				}
			}
			e.pc = next
			continue
		}

		jumped, err := e.step(ctx, rec)
		if err != nil {
			return e.locate(err, rec)
		}
		if !jumped {
			e.pc = next
		}
	}
	return nil
}

// locate attaches the record's offset and source line to a bytecode error.
func (e *Executor) locate(err error, rec bytecode.Record) error {
	var be *bytecode.Error
	if !errors.As(err, &be) {
		return err
	}
	if be.Offset < 0 {
		be = be.At(rec.Offset)
	}
	if be.Line == 0 {
		be = be.OnLine(e.stream.LineAt(rec.Offset))
	}
	return be
}

// step runs one full-mode record. It reports whether the cursor moved.
func (e *Executor) step(ctx context.Context, rec bytecode.Record) (bool, error) {
	switch rec.Op {
	case bytecode.OpJump:
		if err := e.count(rec); err != nil {
			return false, err
		}
		return true, e.jump(ctx, rec.Slot(0))

	case bytecode.OpCondJump:
		if err := e.count(rec); err != nil {
			return false, err
		}
		cond, err := e.scopes.Lookup(rec.Slot(1))
		if err != nil {
			return false, err
		}
		if !cond.Truthy() {
			return false, nil
		}
		return true, e.jump(ctx, rec.Slot(0))

	default:
		return false, e.dispatch(rec)
	}
}

func (e *Executor) count(rec bytecode.Record) error {
	e.steps++
	if e.opts.MaxSteps > 0 && e.steps > e.opts.MaxSteps {
		return bytecode.Errorf(bytecode.KindStepLimit, 0, "exceeded %d steps", e.opts.MaxSteps)
	}
	if e.opts.Trace {
		log.Debugf("%04d  %-36s depth=%d", rec.Offset, e.stream.FormatRecord(rec), e.scopes.Depth())
	}
	return nil
}

func (e *Executor) jump(ctx context.Context, block bytecode.SlotID) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run stopped: %w", err)
	}
	target, ok := e.labels[block]
	if !ok {
		return bytecode.Errorf(bytecode.KindUnknownLabel, block, "jump to undeclared block")
	}
	e.pc = target
	return nil
}

// dispatch runs every non-jump record.
func (e *Executor) dispatch(rec bytecode.Record) error {
	if err := e.count(rec); err != nil {
		return err
	}

	switch rec.Op {
	// ============ Memory ============
	case bytecode.OpAlloca:
		e.scopes.Bind(rec.Slot(0), Empty())

	case bytecode.OpStore:
		v, err := e.scopes.Lookup(rec.Slot(1))
		if err != nil {
			return err
		}
		e.scopes.Set(rec.Slot(0), v)

	case bytecode.OpDel:
		return e.scopes.Delete(rec.Slot(0))

	// ============ Arithmetic ============
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpExp:
		a, b, err := e.operands(rec)
		if err != nil {
			return err
		}
		v, berr := arith(rec.Op, a, b)
		if berr != nil {
			return berr
		}
		e.scopes.Set(rec.Slot(0), v)

	// ============ Comparison ============
	case bytecode.OpEq, bytecode.OpNeq, bytecode.OpGt, bytecode.OpLt, bytecode.OpGte, bytecode.OpLte:
		a, b, err := e.operands(rec)
		if err != nil {
			return err
		}
		v, berr := compare(rec.Op, a, b)
		if berr != nil {
			return berr
		}
		e.scopes.Set(rec.Slot(0), v)

	// ============ Literals ============
	case bytecode.OpNum:
		var digits strings.Builder
		for _, w := range rec.Operands[1:] {
			digits.WriteByte(byte('0' + w.Value))
		}
		v, berr := castNum(Text(digits.String()))
		if berr != nil {
			return berr
		}
		e.scopes.Set(rec.Slot(0), v)

	case bytecode.OpStr:
		key := rec.Slot(1)
		text, ok := e.stream.Text(key)
		if !ok {
			return bytecode.Errorf(bytecode.KindUnknownID, key, "no string table entry")
		}
		e.scopes.Set(rec.Slot(0), Text(text))

	// ============ Conversions ============
	case bytecode.OpCastNum:
		src, err := e.scopes.Lookup(rec.Slot(1))
		if err != nil {
			return err
		}
		v, berr := castNum(src)
		if berr != nil {
			return berr
		}
		e.scopes.Set(rec.Slot(0), v)

	case bytecode.OpCastStr:
		src, err := e.scopes.Lookup(rec.Slot(1))
		if err != nil {
			return err
		}
		e.scopes.Set(rec.Slot(0), Text(src.String()))

	case bytecode.OpFmtNum:
		num, prec, err := e.operands(rec)
		if err != nil {
			return err
		}
		v, berr := formatFixed(num, prec)
		if berr != nil {
			return berr
		}
		e.scopes.Set(rec.Slot(0), v)

	case bytecode.OpFmt:
		tmpl, err := e.scopes.Lookup(rec.Slot(1))
		if err != nil {
			return err
		}
		if tmpl.Kind() != KindText {
			return bytecode.Errorf(bytecode.KindTypeMismatch, rec.Slot(1), "FMT template is %s", tmpl.Kind())
		}
		args := make([]Value, 0, len(rec.Operands)-2)
		for i := 2; i < len(rec.Operands); i++ {
			v, err := e.scopes.Lookup(rec.Slot(i))
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		s, berr := formatTemplate(tmpl.Str(), args)
		if berr != nil {
			return berr
		}
		e.scopes.Set(rec.Slot(0), Text(s))

	// ============ I/O ============
	case bytecode.OpStdin:
		line, err := e.readLine()
		if err != nil {
			return err
		}
		e.scopes.Set(rec.Slot(0), Text(line))

	case bytecode.OpStdout:
		v, err := e.scopes.Lookup(rec.Slot(0))
		if err != nil {
			return err
		}
		if _, err := e.out.WriteString(v.String()); err != nil {
			return fmt.Errorf("write output: %w", err)
		}

	// ============ Scopes and layout ============
	case bytecode.OpBeginScope:
		e.scopes.Push()

	case bytecode.OpEndScope:
		return e.scopes.Pop()

	case bytecode.OpBlock, bytecode.OpStart:
		// Indexed by the pre-pass.

	default:
		return bytecode.Errorf(bytecode.KindProgramMalformed, 0, "cannot dispatch %s", rec.Op)
	}

	return nil
}

// operands reads the two source operands that follow the destination.
func (e *Executor) operands(rec bytecode.Record) (Value, Value, error) {
	a, err := e.scopes.Lookup(rec.Slot(1))
	if err != nil {
		return Value{}, Value{}, err
	}
	b, err := e.scopes.Lookup(rec.Slot(2))
	if err != nil {
		return Value{}, Value{}, err
	}
	return a, b, nil
}

// readLine flushes pending output, then reads one line without its line
// ending.
func (e *Executor) readLine() (string, error) {
	if err := e.out.Flush(); err != nil {
		return "", fmt.Errorf("flush output: %w", err)
	}
	line, err := e.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			return "", bytecode.Errorf(bytecode.KindInputClosed, 0, "end of input")
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}
