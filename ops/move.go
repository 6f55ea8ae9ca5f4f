package ops

import (
	"github.com/dsp56300/jitcore/memacc"
	"github.com/dsp56300/jitcore/regpool"
)

// Move copies src into dst through the register pool: the common case
// for a plain `move` between two DSP registers (no memory operand, no
// parallel pairing).
func (cx *Ctx) Move(dst, src regpool.RegID) error {
	s, err := cx.Regs.Get(src, true, false)
	if err != nil {
		return err
	}
	d, err := cx.Regs.Get(dst, false, true)
	if err != nil {
		return err
	}
	cx.E.Mov(d, s)
	return nil
}

// MoveParallel emits one half of a parallel-move pair whose destination
// is an accumulator (`move x0,a y1,b`-style instructions write two
// registers in the same cycle). The write lands in the accumulator's
// shadow slot rather than the live A/B slot, so that if the *other*
// half of the same parallel move reads the accumulator, it still sees
// the pre-instruction value — real hardware's single-cycle parallel
// move has no write-then-read ordering within one instruction.
// CommitParallelMove folds the shadow back into A/B once the whole
// instruction has been emitted, once per accumulator actually written
// this cycle. The block translator decodes no parallel-move form and
// calls neither function.
func (cx *Ctx) MoveParallel(dstAB int, src regpool.RegID) error {
	s, err := cx.Regs.Get(src, true, false)
	if err != nil {
		return err
	}
	d, err := cx.Regs.Get(accShadow(dstAB), false, true)
	if err != nil {
		return err
	}
	cx.E.Mov(d, s)
	return nil
}

// CommitParallelMove folds the accumulator's shadow slot (written by
// MoveParallel) back into its primary A/B register.
func (cx *Ctx) CommitParallelMove(ab int) error {
	return cx.Regs.CommitShadow(accShadow(ab))
}

// MoveMemory emits a plain register<->memory move through mem (one
// side of `move x:ea,x0`-style instructions); isLoad selects the
// direction. width picks the DSP cell size (X/Y/A10 operands are
// 24-bit; `move l:` operands are 48-bit).
func (cx *Ctx) MoveMemory(reg regpool.RegID, mem *memacc.Emitter, addr uintptr, isLoad bool, width int) error {
	if isLoad {
		r, err := cx.Regs.Get(reg, false, true)
		if err != nil {
			return err
		}
		switch width {
		case 48:
			mem.LoadCell48(r, addr)
		default:
			mem.LoadCell24(r, addr)
		}
		return nil
	}
	r, err := cx.Regs.Get(reg, true, false)
	if err != nil {
		return err
	}
	switch width {
	case 48:
		mem.StoreCell48(addr, r)
	default:
		mem.StoreCell24(addr, r)
	}
	return nil
}

// MoveLong emits `move l:ea,a`/`move l:ea,b`: a single 48-bit memory
// access that writes (or reads) both the accumulator's X-half and
// Y-half bit positions at once. The DSP56300 stores that combined view
// nowhere as its own register — A/B are kept as one 56-bit value in
// this pool — so an L: move against an accumulator degrades to a
// 48-bit load/store through the shadow slot (matching the "paired
// X/Y write" shape spec.md calls out) followed by a commit, while an
// L: move against a true register pair (e.g. `move l:ea,x`) is just a
// MoveMemory with width 48 since X already stores both halves packed.
func (cx *Ctx) MoveLong(ab int, mem *memacc.Emitter, addr uintptr, isLoad bool) error {
	shadow := accShadow(ab)
	if isLoad {
		r, err := cx.Regs.Get(shadow, false, true)
		if err != nil {
			return err
		}
		mem.LoadCell48(r, addr)
		return cx.Regs.CommitShadow(shadow)
	}
	r, err := cx.Regs.Get(accReg(ab), true, false)
	if err != nil {
		return err
	}
	mem.StoreCell48(addr, r)
	return nil
}
