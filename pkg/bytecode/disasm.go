package bytecode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Disassemble returns a human-readable listing for the stream.
func (s *Stream) Disassemble() string {
	return s.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable listing with a name header.
func (s *Stream) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; slotvm stream v%d, %d words\n", s.Version, len(s.Words)))
	sb.WriteString("\n")

	// String table
	if len(s.Strings) > 0 {
		sb.WriteString("; Strings:\n")
		for _, key := range s.stringKeys() {
			sb.WriteString(fmt.Sprintf(";   &%d %q\n", key, truncate(s.Strings[key], 40)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	for _, line := range s.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// DisassembleToLines returns one line per record. Decoding stops at the
// first malformed record, which is reported as the last line.
func (s *Stream) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(s.Words) {
		rec, err := s.DecodeRecord(offset)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  <%v>", offset, err))
			break
		}
		text := s.FormatRecord(rec)
		if srcLine := s.LineAt(offset); srcLine > 0 {
			lines = append(lines, fmt.Sprintf("%04d  %-36s ; line %d", offset, text, srcLine))
		} else {
			lines = append(lines, fmt.Sprintf("%04d  %s", offset, text))
		}
		offset += rec.Len
	}
	return lines
}

// DisassembleTable renders the listing as a table with one row per record.
func (s *Stream) DisassembleTable() string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("slotvm stream v%d", s.Version))
	t.AppendHeader(table.Row{"Offset", "Op", "Operands", "Line", "Note"})

	offset := 0
	for offset < len(s.Words) {
		rec, err := s.DecodeRecord(offset)
		if err != nil {
			t.AppendRow(table.Row{offset, "?", "", s.LineAt(offset), err.Error()})
			break
		}
		operands := make([]string, len(rec.Operands))
		for i, w := range rec.Operands {
			operands[i] = w.String()
		}
		t.AppendRow(table.Row{offset, rec.Op.String(), strings.Join(operands, " "), s.LineAt(offset), s.recordNote(rec)})
		offset += rec.Len
	}

	return t.Render()
}

// FormatRecord renders a record in source-like form.
func (s *Stream) FormatRecord(rec Record) string {
	parts := []string{rec.Op.String()}
	for _, w := range rec.Operands {
		parts = append(parts, w.String())
	}
	text := strings.Join(parts, " ")
	if note := s.recordNote(rec); note != "" {
		text += " ; " + note
	}
	return text
}

// recordNote returns extra detail worth showing next to a record.
func (s *Stream) recordNote(rec Record) string {
	switch rec.Op {
	case OpNum:
		var digits strings.Builder
		for _, w := range rec.Operands[1:] {
			digits.WriteByte(byte('0' + w.Value))
		}
		return digits.String()
	case OpStr:
		if text, ok := s.Text(rec.Slot(1)); ok {
			return fmt.Sprintf("%q", truncate(text, 20))
		}
		return "<missing string>"
	}
	return ""
}

// InstructionCount returns the number of well-formed records before the
// first malformed one.
func (s *Stream) InstructionCount() int {
	records, _ := s.Records()
	return len(records)
}

func (s *Stream) stringKeys() []SlotID {
	keys := make([]SlotID, 0, len(s.Strings))
	for k := range s.Strings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// truncate shortens long strings for listings.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
