package regpool

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

// RegID names one DSP architectural register slot the pool can hold
// resident in a host register. The AGU triples are deliberately
// flattened into independent R/N/M slots rather than packed into one
// SIMD lane (spec.md §9).
type RegID int

const (
	RegA RegID = iota
	RegB
	RegAwrite // shadow slot for a parallel-move arithmetic half's result
	RegBwrite
	RegX
	RegY
	RegSR
	RegOMR
	RegLA
	RegLC
	RegSP
	RegSC
	RegSZ
	RegEP
	RegVBA
	firstAGU
)

const numRegs = int(firstAGU) + 3*dsp.AGUCount

// RegR, RegN, RegM address the i'th AGU triple's R, N and M slots.
func RegR(i int) RegID { return firstAGU + RegID(i) }
func RegN(i int) RegID { return firstAGU + RegID(dsp.AGUCount) + RegID(i) }
func RegM(i int) RegID { return firstAGU + RegID(2*dsp.AGUCount) + RegID(i) }

func aguMIndex(id RegID) (int, bool) {
	lo := firstAGU + RegID(2*dsp.AGUCount)
	hi := firstAGU + RegID(3*dsp.AGUCount)
	if id >= lo && id < hi {
		return int(id - lo), true
	}
	return 0, false
}

// Field offsets within dsp.Registers, computed once so the pool can
// bake absolute addresses into emitted loads/stores the way the
// teacher bakes rbp-relative local-variable offsets in
// std/compiler/x64.go's emitLoadLocal/emitStoreLocal.
var (
	offA    = unsafe.Offsetof(dsp.Registers{}.A) + unsafe.Offsetof(dsp.Reg56{}.Var)
	offB    = unsafe.Offsetof(dsp.Registers{}.B) + unsafe.Offsetof(dsp.Reg56{}.Var)
	offX    = unsafe.Offsetof(dsp.Registers{}.X) + unsafe.Offsetof(dsp.Reg48{}.Var)
	offY    = unsafe.Offsetof(dsp.Registers{}.Y) + unsafe.Offsetof(dsp.Reg48{}.Var)
	offSR   = unsafe.Offsetof(dsp.Registers{}.SR)
	offOMR  = unsafe.Offsetof(dsp.Registers{}.OMR)
	offLA   = unsafe.Offsetof(dsp.Registers{}.LA)
	offLC   = unsafe.Offsetof(dsp.Registers{}.LC)
	offSP   = unsafe.Offsetof(dsp.Registers{}.SP)
	offSC   = unsafe.Offsetof(dsp.Registers{}.SC)
	offSZ   = unsafe.Offsetof(dsp.Registers{}.SZ)
	offEP   = unsafe.Offsetof(dsp.Registers{}.EP)
	offVBA  = unsafe.Offsetof(dsp.Registers{}.VBA)
	offAGUs = unsafe.Offsetof(dsp.Registers{}.AGUs)
	offAguR = unsafe.Offsetof(dsp.AGU{}.R) + unsafe.Offsetof(dsp.Reg24{}.Var)
	offAguN = unsafe.Offsetof(dsp.AGU{}.N) + unsafe.Offsetof(dsp.Reg24{}.Var)
	offAguM = unsafe.Offsetof(dsp.AGU{}.M) + unsafe.Offsetof(dsp.Reg24{}.Var)
	sizeAGU = unsafe.Sizeof(dsp.AGU{})
)

func fieldOffset(id RegID) (uintptr, emit.Size) {
	switch id {
	case RegA:
		return offA, emit.Size64
	case RegB:
		return offB, emit.Size64
	case RegX:
		return offX, emit.Size64
	case RegY:
		return offY, emit.Size64
	case RegSR:
		return offSR, emit.Size32
	case RegOMR:
		return offOMR, emit.Size32
	case RegLA:
		return offLA, emit.Size32
	case RegLC:
		return offLC, emit.Size32
	case RegSP:
		return offSP, emit.Size32
	case RegSC:
		return offSC, emit.Size32
	case RegSZ:
		return offSZ, emit.Size32
	case RegEP:
		return offEP, emit.Size32
	case RegVBA:
		return offVBA, emit.Size32
	}
	if i, ok := aguMIndex(id); ok {
		return offAGUs + uintptr(i)*sizeAGU + offAguM, emit.Size32
	}
	if id >= firstAGU+RegID(dsp.AGUCount) && id < firstAGU+RegID(2*dsp.AGUCount) {
		i := int(id - firstAGU - RegID(dsp.AGUCount))
		return offAGUs + uintptr(i)*sizeAGU + offAguN, emit.Size32
	}
	if id >= firstAGU && id < firstAGU+RegID(dsp.AGUCount) {
		i := int(id - firstAGU)
		return offAGUs + uintptr(i)*sizeAGU + offAguR, emit.Size32
	}
	panic(fmt.Sprintf("regpool: RegID(%d) has no backing memory cell", id))
}

type dspSlot struct {
	physIdx int
	loaded  bool
	written bool
	locked  bool
}

// DSPPool is the DSP register pool of spec.md §4.3: get/read/write/
// lock/unlock over a flattened DSP register set, backed by a physical
// GP pool and a pinned base address for the live dsp.Registers struct
// this translation targets.
type DSPPool struct {
	e        emit.Emitter
	phys     *PhysPool
	regsBase uintptr
	slots    []dspSlot
	changedM map[int]bool
}

// NewDSPPool builds a pool that reads/writes the dsp.Registers located
// at regsBase (obtained by the embedder via unsafe.Pointer over its
// live Registers value) using e to emit the load/store/sign-extend
// instructions.
func NewDSPPool(e emit.Emitter, phys *PhysPool, regsBase uintptr) *DSPPool {
	p := &DSPPool{
		e:        e,
		phys:     phys,
		regsBase: regsBase,
		slots:    make([]dspSlot, numRegs),
		changedM: make(map[int]bool),
	}
	for i := range p.slots {
		p.slots[i].physIdx = -1
	}
	return p
}

// SetPhys assigns the PhysPool after construction, for the DSPPool <->
// PhysPool <-> Spiller construction cycle: a PhysPool needs a Spiller
// (this DSPPool) at construction time, so the embedder builds the
// DSPPool first with a nil PhysPool, builds the PhysPool with it as
// Spiller, then wires it back in with SetPhys.
func (p *DSPPool) SetPhys(phys *PhysPool) { p.phys = phys }

// Get returns a host register currently holding DSP register id,
// loading it from memory first if wantRead and it isn't resident
// already, and marking it written if wantWrite.
func (p *DSPPool) Get(id RegID, wantRead, wantWrite bool) (emit.Reg, error) {
	s := &p.slots[id]
	if !s.loaded {
		idx, err := p.phys.Acquire(Occupant(id))
		if err != nil {
			return 0, fmt.Errorf("regpool: acquiring host register for dsp reg %d: %w", id, err)
		}
		s.physIdx = idx
		s.loaded = true
		s.written = false
		if wantRead {
			p.emitLoad(id, idx)
		}
	} else {
		p.phys.Touch(s.physIdx)
	}
	if wantWrite {
		s.written = true
		if i, ok := aguMIndex(id); ok {
			p.changedM[i] = true
		}
	}
	return emit.Reg(p.phys.Reg(s.physIdx)), nil
}

// Read copies DSP register id into the caller-supplied host register
// dst (spec.md §4.3's `read(dst, r)`).
func (p *DSPPool) Read(dst emit.Reg, id RegID) error {
	src, err := p.Get(id, true, false)
	if err != nil {
		return err
	}
	p.e.Mov(dst, src)
	return nil
}

// Write deposits src into DSP register id's host slot, marking it
// written (spec.md §4.3's `write(r, src)`).
func (p *DSPPool) Write(id RegID, src emit.Reg) error {
	dst, err := p.Get(id, false, true)
	if err != nil {
		return err
	}
	p.e.Mov(dst, src)
	return nil
}

// Lock pins id so the physical pool will not spill it; Unlock releases
// the pin. Used by the parallel-move coordinator around a shadow slot.
func (p *DSPPool) Lock(id RegID)   { p.slots[id].locked = true }
func (p *DSPPool) Unlock(id RegID) { p.slots[id].locked = false }

// CommitShadow copies a parallel-move shadow slot (RegAwrite/RegBwrite)
// into its primary register (A/B) and releases the shadow slot,
// completing step 4 of spec.md §4.3's parallel-operation protocol.
func (p *DSPPool) CommitShadow(shadow RegID) error {
	var primary RegID
	switch shadow {
	case RegAwrite:
		primary = RegA
	case RegBwrite:
		primary = RegB
	default:
		return fmt.Errorf("regpool: RegID(%d) is not a shadow slot", shadow)
	}
	ss := &p.slots[shadow]
	if !ss.loaded {
		return fmt.Errorf("regpool: shadow slot %d committed without ever being written", shadow)
	}
	shadowReg := emit.Reg(p.phys.Reg(ss.physIdx))
	dst, err := p.Get(primary, false, true)
	if err != nil {
		return err
	}
	p.e.Mov(dst, shadowReg)
	p.phys.Release(ss.physIdx)
	ss.loaded, ss.locked, ss.written = false, false, false
	ss.physIdx = -1
	return nil
}

// Spill implements Spiller: it is called by PhysPool when evicting the
// register currently backing occ. A locked occupant (mid parallel-move)
// can never be legally evicted.
func (p *DSPPool) Spill(occ Occupant) error {
	if occ == NoOccupant {
		return nil
	}
	id := RegID(occ)
	s := &p.slots[id]
	if s.locked {
		return fmt.Errorf("regpool: dsp reg %d is locked, cannot spill", id)
	}
	if id == RegAwrite || id == RegBwrite {
		return fmt.Errorf("regpool: shadow slot %d spilled without being committed first", id)
	}
	if s.written {
		p.emitStore(id, s.physIdx)
	}
	s.loaded, s.written = false, false
	s.physIdx = -1
	return nil
}

// WritebackAll spills every resident, written register. Called at
// block finalize after all parallel-move shadows have been committed.
func (p *DSPPool) WritebackAll() error {
	for i := range p.slots {
		if p.slots[i].loaded {
			if err := p.Spill(Occupant(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ChangedM returns the AGU indices whose M register was written during
// this translation, sorted ascending. The block epilogue must call the
// DSP core's modulo-mode re-derivation callback for each (spec.md
// §4.3's `set_m(i, value)` note).
func (p *DSPPool) ChangedM() []int {
	out := make([]int, 0, len(p.changedM))
	for i := range p.changedM {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (p *DSPPool) emitLoad(id RegID, physIdx int) {
	reg := emit.Reg(p.phys.Reg(physIdx))
	if id == RegAwrite || id == RegBwrite {
		// Never loaded from memory: the parallel-move protocol always
		// writes a shadow slot before anything reads it.
		return
	}
	off, size := fieldOffset(id)
	p.e.LoadAbs(reg, emit.AbsMem{Addr: p.regsBase + off}, size)
	if id == RegA || id == RegB {
		// Sign-extend the 56-bit accumulator to fill the 64-bit host
		// register (spec.md §4.5's "arithmetic width tricks").
		p.e.ShlImm(reg, reg, 8)
		p.e.SarImm(reg, reg, 8)
	}
}

func (p *DSPPool) emitStore(id RegID, physIdx int) {
	reg := emit.Reg(p.phys.Reg(physIdx))
	// The backing cell (dsp.Reg56.Var) holds the same sign-extended-to-64
	// representation emitLoad produces and every op encoder's mask56
	// leaves in dst; no renormalization is needed, or wanted, before the
	// store.
	off, size := fieldOffset(id)
	p.e.StoreAbs(emit.AbsMem{Addr: p.regsBase + off}, reg, size)
}
