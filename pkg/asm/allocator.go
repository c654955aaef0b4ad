package asm

import (
	"github.com/chazu/slotvm/pkg/bytecode"
)

// Allocator issues slot ids. Explicit ids come from the caller; fresh ids
// come from a counter that starts above the reserved range and skips every
// id that is registered or was ever released.
type Allocator struct {
	next       bytecode.SlotID
	registered map[bytecode.SlotID]bool
	released   map[bytecode.SlotID]bool
	issued     int
}

// NewAllocator creates an allocator with no registered ids.
func NewAllocator() *Allocator {
	return &Allocator{
		next:       bytecode.MaxReserved + 1,
		registered: make(map[bytecode.SlotID]bool),
		released:   make(map[bytecode.SlotID]bool),
	}
}

// Guard rejects any id inside the reserved range.
func (a *Allocator) Guard(ids ...bytecode.SlotID) error {
	for _, id := range ids {
		if bytecode.IsReserved(int(id)) {
			return bytecode.Errorf(bytecode.KindReservedID, id, "id 0x%02X is in the reserved range", int(id))
		}
	}
	return nil
}

// AllocateExplicit registers a caller-chosen id.
func (a *Allocator) AllocateExplicit(id bytecode.SlotID) error {
	if err := a.Guard(id); err != nil {
		return err
	}
	if a.registered[id] {
		return bytecode.Errorf(bytecode.KindDuplicateID, id, "id already registered")
	}
	a.registered[id] = true
	delete(a.released, id)
	a.issued++
	return nil
}

// AllocateFresh returns a never-issued id above the reserved range and
// registers it.
func (a *Allocator) AllocateFresh() bytecode.SlotID {
	for a.registered[a.next] || a.released[a.next] {
		a.next++
	}
	id := a.next
	a.next++
	a.registered[id] = true
	a.issued++
	return id
}

// Release unregisters id.
func (a *Allocator) Release(id bytecode.SlotID) error {
	if err := a.Guard(id); err != nil {
		return err
	}
	if a.released[id] {
		return bytecode.Errorf(bytecode.KindDoubleRelease, id, "id released twice")
	}
	if !a.registered[id] {
		return bytecode.Errorf(bytecode.KindUnknownID, id, "release of unregistered id")
	}
	delete(a.registered, id)
	a.released[id] = true
	return nil
}

// Registered reports whether id is currently registered.
func (a *Allocator) Registered(id bytecode.SlotID) bool {
	return a.registered[id]
}

// Issued returns how many ids have been handed out, explicit and fresh.
func (a *Allocator) Issued() int {
	return a.issued
}
