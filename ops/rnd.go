package ops

import (
	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/regpool"
)

// Rnd emits `rnd a`/`rnd b`: convergent rounding at the bit position
// SR's S1/S0 scaling-mode bits select, matching alu_rnd. rounder, mask,
// shiftCount, tmp and zeroAlu are scratch registers distinct from dst.
func (cx *Ctx) Rnd(ab int, rounder, mask, shiftCount, tmp, zeroAlu emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	sr, err := cx.Regs.Get(regpool.RegSR, true, false)
	if err != nil {
		return err
	}

	// rounder = 0x800000 >> S1 << S0: the rounding addend shifts with
	// the active scaling mode.
	cx.E.MovImm(rounder, 0x800000)
	cx.E.Mov(shiftCount, sr)
	cx.E.ShrImm(shiftCount, shiftCount, 11) // SR_S1
	cx.E.AndImm(shiftCount, shiftCount, 0x1)
	cx.E.Shr(rounder, rounder, shiftCount)
	cx.E.Mov(shiftCount, sr)
	cx.E.ShrImm(shiftCount, shiftCount, 10) // SR_S0
	cx.E.AndImm(shiftCount, shiftCount, 0x1)
	cx.E.Shl(rounder, rounder, shiftCount)

	mask56(cx.E, dst) // sign-extend 56 -> 64
	cx.E.Add(dst, dst, rounder)

	cx.E.ShlImm(rounder, rounder, 1)
	cx.E.Mov(mask, rounder)
	cx.E.SubImm(mask, mask, 1) // mask = bits at/right of the rounding position

	skip := cx.E.NewLabel()
	cx.E.Bt(sr, 20) // SR_SM
	cx.E.Jcc(emit.CondCS, skip)
	{
		// Convergent rounding: if every masked bit is already 0, clear
		// the bit just left of the rounding position too.
		cx.E.Not(rounder, rounder)
		cx.E.Mov(zeroAlu, dst)
		cx.E.And(zeroAlu, zeroAlu, rounder)
		cx.E.Mov(tmp, dst)
		cx.E.And(tmp, tmp, mask)
		cx.E.CmpImm(tmp, 0)
		cx.E.Cmovcc(dst, zeroAlu, emit.CondEQ)
	}
	cx.E.BindLabel(skip)

	cx.E.Not(mask, mask)
	cx.E.And(dst, dst, mask) // clear everything at/right of the rounding position

	cx.CCR.MarkDirty(dsp.CCR_E|dsp.CCR_N|dsp.CCR_U|dsp.CCR_Z|dsp.CCR_V, ccr.Source{ResultReg: dst, Width: accWidth})
	mask56(cx.E, dst)
	return nil
}
