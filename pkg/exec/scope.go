package exec

import (
	"fmt"
	"sort"

	"github.com/chazu/slotvm/pkg/bytecode"
	"github.com/jedib0t/go-pretty/v6/table"
)

// ScopeStack is the executor's memory: a stack of slot maps searched from
// the innermost scope outwards.
type ScopeStack struct {
	frames   []map[bytecode.SlotID]Value
	released map[bytecode.SlotID]bool
}

// NewScopeStack creates a stack holding only the outermost scope.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{
		frames:   []map[bytecode.SlotID]Value{make(map[bytecode.SlotID]Value)},
		released: make(map[bytecode.SlotID]bool),
	}
}

// Depth returns the number of scopes, at least 1.
func (s *ScopeStack) Depth() int {
	return len(s.frames)
}

// Push opens a new innermost scope.
func (s *ScopeStack) Push() {
	s.frames = append(s.frames, make(map[bytecode.SlotID]Value))
}

// Pop discards the innermost scope and its bindings. The outermost scope
// cannot be popped.
func (s *ScopeStack) Pop() error {
	if len(s.frames) == 1 {
		return bytecode.Errorf(bytecode.KindProgramMalformed, 0, "END_SCOPE without matching BEGIN_SCOPE")
	}
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

func (s *ScopeStack) holder(id bytecode.SlotID) map[bytecode.SlotID]Value {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if _, ok := s.frames[i][id]; ok {
			return s.frames[i]
		}
	}
	return nil
}

// Lookup reads id from the innermost scope that binds it.
func (s *ScopeStack) Lookup(id bytecode.SlotID) (Value, error) {
	frame := s.holder(id)
	if frame == nil {
		if s.released[id] {
			return Value{}, bytecode.Errorf(bytecode.KindUnknownID, id, "read of deleted slot")
		}
		return Value{}, bytecode.Errorf(bytecode.KindUnknownID, id, "read of unbound slot")
	}
	return frame[id], nil
}

// Bind creates or resets id in the innermost scope.
func (s *ScopeStack) Bind(id bytecode.SlotID, v Value) {
	s.frames[len(s.frames)-1][id] = v
	delete(s.released, id)
}

// Set writes id in the innermost scope that binds it, or binds it in the
// innermost scope when no scope does.
func (s *ScopeStack) Set(id bytecode.SlotID, v Value) {
	if frame := s.holder(id); frame != nil {
		frame[id] = v
		return
	}
	s.Bind(id, v)
}

// Delete removes id from whichever scope binds it.
func (s *ScopeStack) Delete(id bytecode.SlotID) error {
	frame := s.holder(id)
	if frame == nil {
		if s.released[id] {
			return bytecode.Errorf(bytecode.KindDoubleRelease, id, "slot deleted twice")
		}
		return bytecode.Errorf(bytecode.KindUnknownID, id, "delete of unbound slot")
	}
	delete(frame, id)
	s.released[id] = true
	return nil
}

// Bound reports whether any scope binds id.
func (s *ScopeStack) Bound(id bytecode.SlotID) bool {
	return s.holder(id) != nil
}

// Dump renders every binding as a table, innermost scope first.
func (s *ScopeStack) Dump() string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Scopes (depth %d)", len(s.frames)))
	t.AppendHeader(table.Row{"Scope", "Slot", "Kind", "Value"})
	for depth := len(s.frames) - 1; depth >= 0; depth-- {
		frame := s.frames[depth]
		ids := make([]bytecode.SlotID, 0, len(frame))
		for id := range frame {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			v := frame[id]
			t.AppendRow(table.Row{depth, fmt.Sprintf("$%d", id), v.Kind(), fmt.Sprintf("%#v", v)})
		}
	}
	return t.Render()
}
