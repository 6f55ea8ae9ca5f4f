// Package regpool implements the translation-time register allocation
// machinery of spec.md §4.2/§4.3: two independent LRU physical pools
// (general-purpose and vector host registers), the DSP register pool
// that maps architectural DSP state onto them with lazy load/writeback,
// and the stack helper that tracks callee-save clobbers for block
// prologue/epilogue emission.
//
// Grounded on _examples/tinyrange-rtg/std/compiler/backend.go's
// CodeGen bookkeeping (gotEntries-style index maps, one mutable struct
// per compile, no internal locking) generalized into an explicit LRU,
// since the teacher's own register use is static (no spill needed for
// a stack-machine-style codegen) and DSP translation needs real
// eviction.
package regpool

import "fmt"

// Occupant identifies what a physical register currently holds: a DSP
// register slot index, or nothing (free).
type Occupant int

const NoOccupant Occupant = -1

// Spiller is asked to write a physical register's contents back to its
// DSP memory cell before the register is handed to a new occupant.
// regpool.DSPPool implements this; PhysPool/VecPool only depend on the
// interface so they stay ignorant of DSP semantics.
type Spiller interface {
	// Spill writes back occ's value (if dirty) and marks it evicted.
	// Returns an error if occ is locked (programmer error: the
	// translator tried to evict a register mid-parallel-move).
	Spill(occ Occupant) error
}

// physEntry is one slot's bookkeeping: which occupant it holds (if
// any) and its position in the LRU order.
type physEntry struct {
	occupant Occupant
	used     bool
}

// PhysPool is an LRU pool over a fixed set of host general-purpose
// registers. calleeSave[i] is true if regs[i] must be preserved across
// the block per the host ABI; the first Acquire of such a register
// notifies a StackHelper so the block epilogue restores it.
type PhysPool struct {
	regs       []int // host Reg values, in acquire-preference order
	calleeSave []bool
	entries    []physEntry
	lru        []int // indices into regs, most-recently-used last
	spiller    Spiller
	stack      *StackHelper
}

// NewPhysPool builds a pool over regs (caller-save registers should be
// listed before callee-save ones so Acquire prefers them, matching the
// x64 ABI's cheaper-to-use scratch registers).
func NewPhysPool(regs []int, calleeSave []bool, spiller Spiller, stack *StackHelper) *PhysPool {
	if len(regs) != len(calleeSave) {
		panic("regpool: regs/calleeSave length mismatch")
	}
	p := &PhysPool{
		regs:       regs,
		calleeSave: calleeSave,
		entries:    make([]physEntry, len(regs)),
		spiller:    spiller,
		stack:      stack,
	}
	for i := range p.entries {
		p.entries[i].occupant = NoOccupant
	}
	return p
}

// Acquire returns a free (or newly-evicted) physical register index
// within this pool, and records occ as its new occupant.
func (p *PhysPool) Acquire(occ Occupant) (int, error) {
	idx := p.pickFree()
	if idx < 0 {
		idx = p.pickLRU()
		if idx < 0 {
			return -1, fmt.Errorf("regpool: all %d registers locked, cannot acquire", len(p.regs))
		}
		if err := p.spiller.Spill(p.entries[idx].occupant); err != nil {
			return -1, fmt.Errorf("regpool: eviction failed: %w", err)
		}
	}
	p.entries[idx].occupant = occ
	p.touch(idx)
	if p.calleeSave[idx] && p.stack != nil {
		p.stack.MarkUsed(p.regs[idx])
	}
	return idx, nil
}

// Release returns slot idx to the free list without spilling (the
// caller is responsible for having written back first if needed).
func (p *PhysPool) Release(idx int) {
	p.entries[idx].occupant = NoOccupant
	p.removeFromLRU(idx)
}

// Touch marks idx as most-recently-used, e.g. on every read/write so
// hot registers survive eviction longest.
func (p *PhysPool) Touch(idx int) { p.touch(idx) }

// Reg returns the host register value for a pool slot index.
func (p *PhysPool) Reg(idx int) int { return p.regs[idx] }

func (p *PhysPool) pickFree() int {
	for i, e := range p.entries {
		if e.occupant == NoOccupant {
			return i
		}
	}
	return -1
}

func (p *PhysPool) pickLRU() int {
	for _, idx := range p.lru {
		return idx
	}
	if len(p.entries) == 0 {
		return -1
	}
	return 0
}

func (p *PhysPool) touch(idx int) {
	p.removeFromLRU(idx)
	p.lru = append(p.lru, idx)
}

func (p *PhysPool) removeFromLRU(idx int) {
	for i, v := range p.lru {
		if v == idx {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			return
		}
	}
}

// VecPool is the vector-register analogue of PhysPool (XMM/V
// registers backing the packed AGU path's would-be SIMD slots). Under
// the flattened-AGU design (spec.md §9) neither the translator nor any
// op encoder builds one; MOVE L:'s paired-word transfer goes through
// GP registers.
type VecPool struct {
	*PhysPool
}

func NewVecPool(regs []int, spiller Spiller) *VecPool {
	calleeSave := make([]bool, len(regs))
	return &VecPool{PhysPool: NewPhysPool(regs, calleeSave, spiller, nil)}
}
