package ops

import (
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/memacc"
	"github.com/dsp56300/jitcore/regpool"
)

// Do emits `do #count,loopAddr`/`dor #count,displacement`: push the
// enclosing loop's LA/LC and current SR onto the hardware stack (two
// entries: {LA,LC} then {SR,0}), install the new loop bounds, and set
// SR's LF bit so ENDDO resolution and nested-loop bookkeeping see an
// active loop (spec.md §4.7: "push LA, LC, SR ... enable the LF
// flag"). newLC is the already-decoded iteration-count register;
// loopAddr becomes the new LA.
func (cx *Ctx) Do(loopAddr dsp.TWord, newLC emit.Reg, mem *memacc.Emitter, ssBase uintptr, scratch, idx, tmp emit.Reg) error {
	la, err := cx.Regs.Get(regpool.RegLA, true, true)
	if err != nil {
		return err
	}
	lc, err := cx.Regs.Get(regpool.RegLC, true, true)
	if err != nil {
		return err
	}
	sr, err := cx.Regs.Get(regpool.RegSR, true, true)
	if err != nil {
		return err
	}

	if err := cx.pushStack(mem, ssBase, la, lc, scratch, idx); err != nil {
		return err
	}
	cx.E.MovImm(tmp, 0)
	if err := cx.pushStack(mem, ssBase, sr, tmp, scratch, idx); err != nil {
		return err
	}

	cx.E.MovImm(la, uint64(loopAddr))
	cx.E.Mov(lc, newLC)
	cx.E.MovImm(scratch, uint64(dsp.SR_LF))
	cx.E.Or(sr, sr, scratch)
	return nil
}

// Enddo emits the loop-exit restore: pop the {SR,0} frame (an explicit
// whole-SR write, so deferred CCR bits are discarded rather than
// committed on top of it) then the {LA,LC} frame, undoing exactly what
// Do pushed. a and b are scratch registers used to receive the popped
// pair.
func (cx *Ctx) Enddo(mem *memacc.Emitter, ssBase uintptr, scratch, idx, a, b emit.Reg) error {
	if err := cx.popStack(mem, ssBase, a, b, scratch, idx); err != nil {
		return err
	}
	sr, err := cx.Regs.Get(regpool.RegSR, false, true)
	if err != nil {
		return err
	}
	cx.E.Mov(sr, a)
	cx.CCR.DiscardAll()

	la, err := cx.Regs.Get(regpool.RegLA, false, true)
	if err != nil {
		return err
	}
	lc, err := cx.Regs.Get(regpool.RegLC, false, true)
	if err != nil {
		return err
	}
	return cx.popStack(mem, ssBase, la, lc, scratch, idx)
}
