package ops

import (
	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

// Asl emits `asl #shift,abSrc,abDst`: shift the accumulator left,
// deriving C from the host carry and V by shifting the result back and
// comparing to the original — the same technique alu_asl uses in
// jitops_alu_x64.inl, restructured to keep the backshifted snapshot in
// a register of its own (vsave) rather than reusing dst in place, so
// the deferred CCR_V derivation can recompute its comparison at commit
// time against values that are still intact. scratch and vsave must
// not alias dst or src. captureC snapshots the host carry flag into a
// register right after the shift, since the value C itself should
// commit may no longer reflect it by the time CCR actually commits.
func (cx *Ctx) Asl(abSrc, abDst int, shift uint8, scratch, vsave, captureC emit.Reg) error {
	src, err := cx.Regs.Get(accReg(abSrc), true, false)
	if err != nil {
		return err
	}
	dst, err := cx.Regs.Get(accReg(abDst), abSrc == abDst, true)
	if err != nil {
		return err
	}

	cx.E.Mov(scratch, src) // oldAlu; becomes oldAlu<<8 below
	if abSrc != abDst {
		cx.E.Mov(dst, src)
	}

	// Pre-shift by 8 so the real shift lands on the native 64-bit
	// carry flag (56 => 64), per the reference's comment.
	cx.E.ShlImm(dst, dst, 8)
	cx.E.ShlImm(dst, dst, shift)
	cx.CCR.MarkCarryFromHostFlags(captureC)

	// Overflow: snapshot the shifted result, shift the snapshot back,
	// and compare against the saved pre-shift value (shl8'd).
	cx.E.Mov(vsave, dst)
	cx.E.SarImm(vsave, vsave, shift)
	cx.E.ShlImm(scratch, scratch, 8)
	cx.CCR.MarkDirty(dsp.CCR_V, ccr.Source{ResultReg: vsave, Extra: scratch, UseExtra: true})

	cx.E.ShrImm(dst, dst, 8) // undo the pre-shift-by-8
	mask56(cx.E, dst)        // and re-sign-extend, per the Reg56 convention
	cx.CCR.MarkDirty(dsp.CCR_E|dsp.CCR_N|dsp.CCR_U|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	return nil
}

// Asr emits `asr #shift,abSrc,abDst`: arithmetic shift right, V always
// cleared (an arithmetic right shift of a sign-extended value can
// never overflow), matching alu_asr.
func (cx *Ctx) Asr(abSrc, abDst int, shift uint8, scratch, captureC emit.Reg) error {
	src, err := cx.Regs.Get(accReg(abSrc), true, false)
	if err != nil {
		return err
	}
	dst, err := cx.Regs.Get(accReg(abDst), abSrc == abDst, true)
	if err != nil {
		return err
	}
	if abSrc != abDst {
		cx.E.Mov(dst, src)
	}

	cx.E.ShlImm(dst, dst, 8)
	cx.E.SarImm(dst, dst, shift)
	cx.E.SarImm(dst, dst, 8)
	cx.CCR.MarkCarryFromHostFlags(captureC)
	mask56(cx.E, dst)

	cx.CCR.Clear(dsp.CCR_V, scratch)
	cx.CCR.MarkDirty(dsp.CCR_E|dsp.CCR_N|dsp.CCR_U|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	return nil
}

// Rol emits `rol a`/`rol b`: bit 23 of the accumulator's middle 24-bit
// field (A1/B1, bits 47..24) rotates through C, matching the test vector in
// spec.md §8 (A = 0x12ABCDEF123456, C=1 -> A = 0x12579BDF123456, C=1).
// A native 64-bit rotate can't express a 24-bit field rotate (the
// vacated bit would land at bit 24, not wrap to bit 0), so this
// extracts the new carry explicitly and splices the rotated field back
// in. oldC must already hold the pre-op CCR_C value as 0 or 1. N and Z
// derive from the new A1, which scratch holds until CCR commits.
func (cx *Ctx) Rol(ab int, oldC, scratch, captureC emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.Mov(scratch, dst)
	cx.E.ShrImm(scratch, scratch, 24)
	cx.E.AndImm(scratch, scratch, 0xFFFFFF) // scratch = A1

	cx.E.Bt(scratch, 23) // new C = outgoing bit 23
	cx.CCR.MarkCarryFromHostFlags(captureC)

	cx.E.ShlImm(scratch, scratch, 1)
	cx.E.Or(scratch, scratch, oldC)
	cx.E.AndImm(scratch, scratch, 0xFFFFFF)

	cx.E.ShlImm(scratch, scratch, 24)
	cx.E.AndImm(dst, dst, ^int64(0xFFFFFF<<24))
	cx.E.Or(dst, dst, scratch)
	cx.E.ShrImm(scratch, scratch, 24) // scratch = new A1
	cx.CCR.MarkDirty(dsp.CCR_N|dsp.CCR_Z, ccr.Source{ResultReg: scratch, Width: ccr.Width24})
	return nil
}

// Ror is Rol's mirror image (rotate right through C).
func (cx *Ctx) Ror(ab int, oldC, scratch, captureC emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.Mov(scratch, dst)
	cx.E.ShrImm(scratch, scratch, 24)
	cx.E.AndImm(scratch, scratch, 0xFFFFFF) // scratch = A1

	cx.E.Bt(scratch, 0) // new C = outgoing bit 0
	cx.CCR.MarkCarryFromHostFlags(captureC)

	cx.E.ShrImm(scratch, scratch, 1)
	cx.E.ShlImm(oldC, oldC, 23)
	cx.E.Or(scratch, scratch, oldC)
	cx.E.AndImm(scratch, scratch, 0xFFFFFF)

	cx.E.ShlImm(scratch, scratch, 24)
	cx.E.AndImm(dst, dst, ^int64(0xFFFFFF<<24))
	cx.E.Or(dst, dst, scratch)
	cx.E.ShrImm(scratch, scratch, 24) // scratch = new A1
	cx.CCR.MarkDirty(dsp.CCR_N|dsp.CCR_Z, ccr.Source{ResultReg: scratch, Width: ccr.Width24})
	return nil
}
