package exec

import (
	"github.com/chazu/slotvm/pkg/bytecode"
)

// LabelTable maps a block id to the offset of the first word after the
// block's declaration.
type LabelTable map[bytecode.SlotID]int

// DiscoverLabels walks the whole stream once and records every block
// declaration. It touches neither scopes nor I/O. It also rejects layouts
// the dispatch loop cannot run: malformed or truncated records, pending
// jump targets, duplicate blocks, and anything but exactly one START.
func DiscoverLabels(s *bytecode.Stream) (LabelTable, error) {
	labels := make(LabelTable)
	starts := 0
	firstStart := -1

	for offset := 0; offset < s.Len(); {
		rec, err := s.DecodeRecord(offset)
		if err != nil {
			return nil, err
		}

		for _, w := range rec.Operands {
			if w.Kind == bytecode.WordPending {
				e := bytecode.Errorf(bytecode.KindUnresolvedLabel, 0, "jump target was never resolved").
					At(offset).OnLine(s.LineAt(offset))
				e.Label = w.Name
				return nil, e
			}
		}

		switch rec.Op {
		case bytecode.OpBlock:
			id := rec.Slot(0)
			if _, dup := labels[id]; dup {
				return nil, bytecode.Errorf(bytecode.KindDuplicateID, id, "block declared twice").
					At(offset).OnLine(s.LineAt(offset))
			}
			labels[id] = offset + rec.Len
		case bytecode.OpStart:
			starts++
			if firstStart < 0 {
				firstStart = offset
			}
			if starts > 1 {
				return nil, bytecode.Errorf(bytecode.KindProgramMalformed, 0, "START appears more than once (first at offset %d)", firstStart).
					At(offset).OnLine(s.LineAt(offset))
			}
		}
		offset += rec.Len
	}

	if starts == 0 {
		return nil, bytecode.Errorf(bytecode.KindProgramMalformed, 0, "program has no START")
	}
	return labels, nil
}
