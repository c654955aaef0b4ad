package asm

import (
	"fmt"

	"github.com/chazu/slotvm/pkg/bytecode"
)

// Dest selects where a result-producing instruction writes.
type Dest struct {
	id        bytecode.SlotID
	overwrite bool
}

// NewBinding asks the builder for a fresh id.
func NewBinding() Dest {
	return Dest{}
}

// Overwrite targets an id that already exists.
func Overwrite(id bytecode.SlotID) Dest {
	return Dest{id: id, overwrite: true}
}

// IsOverwrite reports whether d names an existing id.
func (d Dest) IsOverwrite() bool {
	return d.overwrite
}

// ID returns the target id of an overwrite, or 0.
func (d Dest) ID() bytecode.SlotID {
	return d.id
}

func (d Dest) String() string {
	if d.overwrite {
		return fmt.Sprintf("overwrite $%d", d.id)
	}
	return "new binding"
}

// Operand is a jump target: a resolved block id, or the name of a block
// that has not been declared yet.
type Operand struct {
	id   bytecode.SlotID
	name string
}

// Resolved returns an operand for a known block id.
func Resolved(id bytecode.SlotID) Operand {
	return Operand{id: id}
}

// Pending returns an operand for a block declared later.
func Pending(name string) Operand {
	return Operand{name: name}
}

// IsPending reports whether the operand still needs resolution.
func (o Operand) IsPending() bool {
	return o.name != ""
}

// ID returns the block id of a resolved operand.
func (o Operand) ID() bytecode.SlotID {
	return o.id
}

// Name returns the block name of a pending operand.
func (o Operand) Name() string {
	return o.name
}

func (o Operand) String() string {
	if o.IsPending() {
		return "?" + o.name
	}
	return fmt.Sprintf("$%d", o.id)
}
