package asm

import (
	"github.com/chazu/slotvm/pkg/bytecode"
)

// Resolve replaces every pending jump target with the id lookup returns
// for its name. A name lookup does not know fails with UnresolvedLabel.
func (b *Builder) Resolve(lookup func(name string) (bytecode.SlotID, bool)) error {
	resolved := 0
	for i, w := range b.stream.Words {
		if w.Kind != bytecode.WordPending {
			continue
		}
		id, ok := lookup(w.Name)
		if !ok {
			e := bytecode.Errorf(bytecode.KindUnresolvedLabel, 0, "block is never declared").
				At(i).OnLine(b.stream.LineAt(i))
			e.Label = w.Name
			return e
		}
		if err := b.alloc.Guard(id); err != nil {
			return bytecode.Errorf(bytecode.KindOf(err), id, "block %q resolves into the reserved range", w.Name).
				At(i).OnLine(b.stream.LineAt(i))
		}
		b.stream.Words[i] = bytecode.SlotWord(id)
		resolved++
	}
	if resolved > 0 {
		log.Debugf("resolved %d forward reference(s)", resolved)
	}
	return nil
}
