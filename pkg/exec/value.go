package exec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/slotvm/pkg/bytecode"
)

// ValueKind is the runtime type of a Value.
type ValueKind uint8

const (
	KindEmpty ValueKind = iota // freshly allocated, never written
	KindNumber
	KindText
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "boolean"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is one runtime value held by a slot.
type Value struct {
	kind ValueKind
	num  float64
	text string
	b    bool
}

// Empty returns the value of a fresh allocation.
func Empty() Value { return Value{} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the runtime type.
func (v Value) Kind() ValueKind { return v.kind }

// Num returns the number held by a numeric value.
func (v Value) Num() float64 { return v.num }

// Str returns the text held by a text value.
func (v Value) Str() string { return v.text }

// Boolean returns the boolean held by a boolean value.
func (v Value) Boolean() bool { return v.b }

// Truthy reports whether a conditional jump on v is taken. Zero, empty
// text, false and empty values are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNumber:
		return v.num != 0
	case KindText:
		return v.text != ""
	case KindBool:
		return v.b
	default:
		return false
	}
}

// String renders the value as STDOUT and CAST_STR see it.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return formatNumber(v.num)
	case KindText:
		return v.text
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// GoString is used by %#v and the scope dump.
func (v Value) GoString() string {
	switch v.kind {
	case KindText:
		return strconv.Quote(v.text)
	case KindEmpty:
		return "<empty>"
	default:
		return v.String()
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// numeric returns v as a number. Booleans count as 0 and 1.
func (v Value) numeric() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func mismatch(op bytecode.Opcode, a, b Value) *bytecode.Error {
	return bytecode.Errorf(bytecode.KindTypeMismatch, 0, "%s on %s and %s", op, a.kind, b.kind)
}

// arith applies a binary arithmetic opcode.
func arith(op bytecode.Opcode, a, b Value) (Value, *bytecode.Error) {
	if op == bytecode.OpAdd && a.kind == KindText && b.kind == KindText {
		return Text(a.text + b.text), nil
	}
	x, okA := a.numeric()
	y, okB := b.numeric()
	if !okA || !okB {
		return Value{}, mismatch(op, a, b)
	}

	switch op {
	case bytecode.OpAdd:
		return Number(x + y), nil
	case bytecode.OpSub:
		return Number(x - y), nil
	case bytecode.OpMul:
		return Number(x * y), nil
	case bytecode.OpDiv:
		if y == 0 {
			return Value{}, bytecode.Errorf(bytecode.KindDivisionByZero, 0, "%s by zero", op)
		}
		return Number(x / y), nil
	case bytecode.OpMod:
		if y == 0 {
			return Value{}, bytecode.Errorf(bytecode.KindDivisionByZero, 0, "%s by zero", op)
		}
		r := math.Mod(x, y)
		// Result takes the sign of the divisor.
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
		return Number(r), nil
	case bytecode.OpExp:
		return Number(math.Pow(x, y)), nil
	}
	return Value{}, bytecode.Errorf(bytecode.KindProgramMalformed, 0, "%s is not arithmetic", op)
}

// equal compares two values. Numbers and booleans compare numerically;
// other mixed kinds are unequal.
func equal(a, b Value) bool {
	if a.kind == b.kind {
		switch a.kind {
		case KindText:
			return a.text == b.text
		case KindBool:
			return a.b == b.b
		case KindNumber:
			return a.num == b.num
		default:
			return true
		}
	}
	x, okA := a.numeric()
	y, okB := b.numeric()
	return okA && okB && x == y
}

// compare applies an ordering opcode.
func compare(op bytecode.Opcode, a, b Value) (Value, *bytecode.Error) {
	switch op {
	case bytecode.OpEq:
		return Bool(equal(a, b)), nil
	case bytecode.OpNeq:
		return Bool(!equal(a, b)), nil
	}

	var c int
	if a.kind == KindText && b.kind == KindText {
		c = strings.Compare(a.text, b.text)
	} else {
		x, okA := a.numeric()
		y, okB := b.numeric()
		if !okA || !okB {
			return Value{}, mismatch(op, a, b)
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	}

	switch op {
	case bytecode.OpGt:
		return Bool(c > 0), nil
	case bytecode.OpLt:
		return Bool(c < 0), nil
	case bytecode.OpGte:
		return Bool(c >= 0), nil
	case bytecode.OpLte:
		return Bool(c <= 0), nil
	}
	return Value{}, bytecode.Errorf(bytecode.KindProgramMalformed, 0, "%s is not a comparison", op)
}

// castNum converts v to a number.
func castNum(v Value) (Value, *bytecode.Error) {
	switch v.kind {
	case KindNumber:
		return v, nil
	case KindBool:
		f, _ := v.numeric()
		return Number(f), nil
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil {
			return Value{}, bytecode.Errorf(bytecode.KindInvalidNumber, 0, "cannot convert %q to a number", v.text)
		}
		return Number(f), nil
	default:
		return Value{}, bytecode.Errorf(bytecode.KindInvalidNumber, 0, "cannot convert an empty value to a number")
	}
}

// maxPrecision is the most decimals a float64 can carry (the smallest
// subnormal is 2^-1074).
const maxPrecision = 1074

// formatFixed renders num with precision decimals; precision 0 renders the
// truncated integer.
func formatFixed(num, precision Value) (Value, *bytecode.Error) {
	f, ok := num.numeric()
	if !ok {
		return Value{}, bytecode.Errorf(bytecode.KindTypeMismatch, 0, "FMT_NUM of %s", num.kind)
	}
	p, ok := precision.numeric()
	if !ok {
		return Value{}, bytecode.Errorf(bytecode.KindTypeMismatch, 0, "FMT_NUM precision is %s", precision.kind)
	}
	if p < 0 || p != math.Trunc(p) {
		return Value{}, bytecode.Errorf(bytecode.KindInvalidNumber, 0, "precision %s must be a non-negative integer", formatNumber(p))
	}
	if p > maxPrecision {
		return Value{}, bytecode.Errorf(bytecode.KindInvalidNumber, 0, "precision %s exceeds %d", formatNumber(p), maxPrecision)
	}
	if p == 0 {
		t := math.Trunc(f)
		if t == 0 {
			t = 0 // drop the sign of -0
		}
		return Text(strconv.FormatFloat(t, 'f', 0, 64)), nil
	}
	return Text(strconv.FormatFloat(f, 'f', int(p), 64)), nil
}

// formatTemplate substitutes args into template. "{}" takes the next
// argument, "{N}" takes argument N, and "{{" / "}}" are literal braces.
func formatTemplate(template string, args []Value) (string, *bytecode.Error) {
	var sb strings.Builder
	next := 0
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", bytecode.Errorf(bytecode.KindProgramMalformed, 0, "unclosed placeholder in template %q", template)
			}
			field := template[i+1 : i+end]
			idx := next
			if field == "" {
				next++
			} else {
				n, err := strconv.Atoi(field)
				if err != nil || n < 0 {
					return "", bytecode.Errorf(bytecode.KindProgramMalformed, 0, "bad placeholder {%s}", field)
				}
				idx = n
			}
			if idx >= len(args) {
				return "", bytecode.Errorf(bytecode.KindProgramMalformed, 0, "placeholder %d but only %d argument(s)", idx, len(args))
			}
			sb.WriteString(args[idx].String())
			i += end
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				sb.WriteByte('}')
				i++
				continue
			}
			return "", bytecode.Errorf(bytecode.KindProgramMalformed, 0, "single '}' in template %q", template)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}
