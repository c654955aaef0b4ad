package bytecode

import (
	"fmt"
	"sort"
)

// StreamVersion is the current stream format version.
// Increment when making incompatible changes to the format.
const StreamVersion uint16 = 1

// SlotID identifies one runtime value binding. Valid ids are above
// MaxReserved.
type SlotID int

// WordKind tags how a stream word's integer is to be read.
type WordKind uint8

const (
	// WordNone marks the absence of a kind (fixed-arity records use it as
	// their Repeat kind). It never appears in a stream.
	WordNone WordKind = iota

	// WordOp is an opcode or the END terminator.
	WordOp

	// WordDigit is one decimal digit of a number literal.
	WordDigit

	// WordSlot is a slot id operand.
	WordSlot

	// WordText is a key into the string table.
	WordText

	// WordPending is an unresolved jump target. Name holds the block name.
	WordPending
)

// String returns a human-readable name for WordKind.
func (k WordKind) String() string {
	switch k {
	case WordNone:
		return "none"
	case WordOp:
		return "op"
	case WordDigit:
		return "digit"
	case WordSlot:
		return "slot"
	case WordText:
		return "text"
	case WordPending:
		return "pending"
	default:
		return fmt.Sprintf("WordKind(%d)", k)
	}
}

// Word is one element of the instruction stream.
type Word struct {
	Kind  WordKind `cbor:"1,keyasint"`
	Value int      `cbor:"2,keyasint,omitempty"`
	Name  string   `cbor:"3,keyasint,omitempty"`
}

// OpWord returns the word for an opcode.
func OpWord(op Opcode) Word { return Word{Kind: WordOp, Value: int(op)} }

// DigitWord returns the word for one literal digit.
func DigitWord(d int) Word { return Word{Kind: WordDigit, Value: d} }

// SlotWord returns the word for a slot id operand.
func SlotWord(id SlotID) Word { return Word{Kind: WordSlot, Value: int(id)} }

// TextWord returns the word referencing string table entry key.
func TextWord(key SlotID) Word { return Word{Kind: WordText, Value: int(key)} }

// PendingWord returns a placeholder for a block that is not declared yet.
func PendingWord(name string) Word { return Word{Kind: WordPending, Name: name} }

// IsEnd reports whether w is the record terminator.
func (w Word) IsEnd() bool {
	return w.Kind == WordOp && Opcode(w.Value) == OpEnd
}

// Slot returns the word's value as a slot id.
func (w Word) Slot() SlotID {
	return SlotID(w.Value)
}

func (w Word) String() string {
	switch w.Kind {
	case WordOp:
		return Opcode(w.Value).String()
	case WordDigit:
		return fmt.Sprintf("%d", w.Value)
	case WordSlot:
		return fmt.Sprintf("$%d", w.Value)
	case WordText:
		return fmt.Sprintf("&%d", w.Value)
	case WordPending:
		return fmt.Sprintf("?%s", w.Name)
	default:
		return fmt.Sprintf("<%s %d>", w.Kind, w.Value)
	}
}

// SourceLine maps a stream offset to the source line that produced it.
type SourceLine struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

// Stream is an assembled program: the word sequence, its string table and
// an optional source line map.
type Stream struct {
	Version uint16
	Words   []Word
	Strings map[SlotID]string
	Lines   []SourceLine
}

// NewStream creates a new empty stream with the current version.
func NewStream() *Stream {
	return &Stream{
		Version: StreamVersion,
		Words:   make([]Word, 0, 64),
		Strings: make(map[SlotID]string),
	}
}

// Emit appends a whole record: the opcode, its operands and, unless the
// opcode is unterminated, the END word. Returns the record offset.
func (s *Stream) Emit(op Opcode, operands ...Word) int {
	offset := len(s.Words)
	s.Words = append(s.Words, OpWord(op))
	s.Words = append(s.Words, operands...)
	if GetOpcodeInfo(op).Terminated {
		s.Words = append(s.Words, OpWord(OpEnd))
	}
	return offset
}

// Len returns the number of words.
func (s *Stream) Len() int {
	return len(s.Words)
}

// SetString stores a string table entry.
func (s *Stream) SetString(key SlotID, text string) {
	if s.Strings == nil {
		s.Strings = make(map[SlotID]string)
	}
	s.Strings[key] = text
}

// Text returns the string table entry for key.
func (s *Stream) Text(key SlotID) (string, bool) {
	text, ok := s.Strings[key]
	return text, ok
}

// AddSourceLine records that the record at offset came from a source line.
func (s *Stream) AddSourceLine(offset, line int) {
	s.Lines = append(s.Lines, SourceLine{Offset: offset, Line: line})
}

// LineAt returns the source line for a stream offset.
// Returns 0 if no mapping exists.
func (s *Stream) LineAt(offset int) int {
	// Lines are appended in offset order; find the nearest mapping at or
	// before the offset.
	i := sort.Search(len(s.Lines), func(i int) bool { return s.Lines[i].Offset > offset })
	if i == 0 {
		return 0
	}
	return s.Lines[i-1].Line
}

// PendingOffsets returns the offsets of every unresolved jump target.
func (s *Stream) PendingOffsets() []int {
	var offsets []int
	for i, w := range s.Words {
		if w.Kind == WordPending {
			offsets = append(offsets, i)
		}
	}
	return offsets
}

// Record is one decoded instruction record.
type Record struct {
	Offset   int
	Op       Opcode
	Operands []Word
	Len      int // words including opcode and terminator
}

// Slot returns operand i as a slot id.
func (r Record) Slot(i int) SlotID {
	return r.Operands[i].Slot()
}

func (s *Stream) malformed(offset int, format string, args ...any) *Error {
	return Errorf(KindProgramMalformed, 0, format, args...).At(offset).OnLine(s.LineAt(offset))
}

// DecodeRecord decodes the record starting at offset and validates its
// shape against the opcode table.
func (s *Stream) DecodeRecord(offset int) (Record, error) {
	if offset < 0 || offset >= len(s.Words) {
		return Record{}, s.malformed(offset, "offset out of range")
	}

	w := s.Words[offset]
	if w.Kind != WordOp || !Opcode(w.Value).Valid() {
		return Record{}, s.malformed(offset, "expected opcode, found %s", w)
	}

	op := Opcode(w.Value)
	info := GetOpcodeInfo(op)
	rec := Record{Offset: offset, Op: op}
	pos := offset + 1

	for i, kind := range info.Operands {
		if pos >= len(s.Words) {
			return Record{}, s.malformed(offset, "truncated %s record", op)
		}
		ow := s.Words[pos]
		if !operandFits(op, i, kind, ow) {
			return Record{}, s.malformed(pos, "%s operand %d: expected %s, found %s", op, i, kind, ow)
		}
		rec.Operands = append(rec.Operands, ow)
		pos++
	}

	if info.Variadic() {
		for pos < len(s.Words) && !s.Words[pos].IsEnd() {
			ow := s.Words[pos]
			if ow.Kind != info.Repeat {
				return Record{}, s.malformed(pos, "%s operand: expected %s, found %s", op, info.Repeat, ow)
			}
			rec.Operands = append(rec.Operands, ow)
			pos++
		}
		if op == OpNum && len(rec.Operands) == len(info.Operands) {
			return Record{}, s.malformed(offset, "number literal without digits")
		}
	}

	if info.Terminated {
		if pos >= len(s.Words) || !s.Words[pos].IsEnd() {
			return Record{}, s.malformed(offset, "missing END after %s", op)
		}
		pos++
	}

	rec.Len = pos - offset
	return rec, nil
}

// operandFits checks an operand word against the layout. Jump targets may
// still be pending while the assembler runs.
func operandFits(op Opcode, index int, want WordKind, w Word) bool {
	if w.Kind == want {
		return true
	}
	return index == 0 && op.IsJump() && w.Kind == WordPending
}

// Records decodes the whole stream.
func (s *Stream) Records() ([]Record, error) {
	var records []Record
	for offset := 0; offset < len(s.Words); {
		rec, err := s.DecodeRecord(offset)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
		offset += rec.Len
	}
	return records, nil
}

// Ints flattens the stream to the compact single-integer encoding.
// Fails if any jump target is still pending.
func (s *Stream) Ints() ([]int, error) {
	out := make([]int, len(s.Words))
	for i, w := range s.Words {
		if w.Kind == WordPending {
			e := Errorf(KindUnresolvedLabel, 0, "cannot flatten pending reference").At(i)
			e.Label = w.Name
			return nil, e
		}
		out[i] = w.Value
	}
	return out, nil
}

// FromInts rebuilds a tagged stream from the compact encoding. Record
// shapes from the opcode table say which positions hold digits, slots or
// string keys; a string-key position must name an entry of strs.
func FromInts(ints []int, strs map[SlotID]string) (*Stream, error) {
	s := NewStream()
	for k, v := range strs {
		s.Strings[k] = v
	}

	pos := 0
	for pos < len(ints) {
		start := pos
		op := Opcode(ints[pos])
		if !op.Valid() {
			return nil, Errorf(KindProgramMalformed, 0, "expected opcode, found %d", ints[pos]).At(pos)
		}
		s.Words = append(s.Words, OpWord(op))
		pos++

		info := GetOpcodeInfo(op)
		for _, kind := range info.Operands {
			if pos >= len(ints) {
				return nil, Errorf(KindProgramMalformed, 0, "truncated %s record", op).At(start)
			}
			w, err := wordFromInt(kind, ints[pos], strs)
			if err != nil {
				return nil, err.At(pos)
			}
			s.Words = append(s.Words, w)
			pos++
		}
		if info.Variadic() {
			for pos < len(ints) && ints[pos] != int(OpEnd) {
				w, err := wordFromInt(info.Repeat, ints[pos], strs)
				if err != nil {
					return nil, err.At(pos)
				}
				s.Words = append(s.Words, w)
				pos++
			}
		}
		if info.Terminated {
			if pos >= len(ints) || ints[pos] != int(OpEnd) {
				return nil, Errorf(KindProgramMalformed, 0, "missing END after %s", op).At(start)
			}
			s.Words = append(s.Words, OpWord(OpEnd))
			pos++
		}
	}
	return s, nil
}

func wordFromInt(kind WordKind, v int, strs map[SlotID]string) (Word, *Error) {
	switch kind {
	case WordDigit:
		if v < 0 || v > MaxDigit {
			return Word{}, Errorf(KindProgramMalformed, 0, "digit out of range: %d", v)
		}
		return DigitWord(v), nil
	case WordText:
		if _, ok := strs[SlotID(v)]; !ok {
			return Word{}, Errorf(KindUnknownID, SlotID(v), "no string table entry")
		}
		return TextWord(SlotID(v)), nil
	default:
		if IsReserved(v) {
			return Word{}, Errorf(KindReservedID, SlotID(v), "operand in reserved range")
		}
		return SlotWord(SlotID(v)), nil
	}
}
