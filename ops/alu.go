package ops

import (
	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

// accFieldMask covers every accumulator bit except 47..24: bits 55..48
// (extension byte) and 23..0 (low word) all-1, the middle 24 bits all-0.
// alu_and in the reference ORs its shifted operand with exactly this
// mask before the final AND, so the AND only ever touches the middle
// field and the outer bytes pass through untouched.
const accFieldMask = uint64(0xFF000000FFFFFF)

// notMask flips only bits 47..24, the inverse of accFieldMask's hole.
const notMask = uint64(0x00FFFFFF000000)

// Add emits `add x,a`/`add y,b` etc.: accumulator += operand, both
// already aligned to the same bit position (callers widen/shift X/Y
// operands before calling). C and V come straight off the host add;
// Z/N/E/U derive from the 56-bit result, matching alu_add's call to
// ccr_update_ifCarry/ccr_dirty. captureC/captureV are scratch registers
// used to snapshot the host carry/overflow flags immediately, since
// mask56 right below clobbers them before CCR ever commits.
func (cx *Ctx) Add(ab int, operand emit.Reg, captureC, captureV emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.Add(dst, dst, operand)
	cx.CCR.MarkCarryFromHostFlags(captureC)
	cx.CCR.MarkOverflowFromHostFlags(captureV)
	mask56(cx.E, dst)
	cx.CCR.MarkDirty(dsp.CCR_E|dsp.CCR_N|dsp.CCR_U|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	return nil
}

// Sub is Add's mirror image (`sub x,a`).
func (cx *Ctx) Sub(ab int, operand emit.Reg, captureC, captureV emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.Sub(dst, dst, operand)
	cx.CCR.MarkCarryFromHostFlags(captureC)
	cx.CCR.MarkOverflowFromHostFlags(captureV)
	mask56(cx.E, dst)
	cx.CCR.MarkDirty(dsp.CCR_E|dsp.CCR_N|dsp.CCR_U|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	return nil
}

// AndLong emits `and x0,a`: AND the accumulator's middle 24-bit field
// (bits 47..24) with a 24-bit operand, preserving bits 55..48 and
// 23..0. Ported from alu_and: v is the raw 24-bit operand register,
// shifted in place by this call; zTemp and maskTemp are scratch
// registers the caller must not reuse across the call.
func (cx *Ctx) AndLong(ab int, v, zTemp, maskTemp emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}

	cx.E.ShlImm(v, v, 24)
	cx.E.Mov(zTemp, dst)
	cx.E.And(zTemp, zTemp, v)
	cx.CCR.MarkDirty(dsp.CCR_Z, ccr.Source{ResultReg: zTemp})

	cx.E.MovImm(maskTemp, accFieldMask)
	cx.E.Or(v, v, maskTemp)
	cx.E.And(dst, dst, v)

	cx.CCR.MarkDirty(dsp.CCR_N, ccr.Source{ResultReg: dst, Width: accWidth})
	cx.CCR.Clear(dsp.CCR_V, maskTemp)
	return nil
}

// OrLong emits `or x0,a`. Unlike AND, OR's neutral element is 0, so the
// shifted operand already leaves bits 55..48/23..0 untouched with no
// extra masking step.
func (cx *Ctx) OrLong(ab int, v, scratch emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.ShlImm(v, v, 24)
	cx.E.Or(dst, dst, v)
	cx.CCR.MarkDirty(dsp.CCR_N|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	cx.CCR.Clear(dsp.CCR_V, scratch)
	return nil
}

// EorLong emits `eor x0,a` (same shape as OrLong, XOR instead of OR).
func (cx *Ctx) EorLong(ab int, v, scratch emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.ShlImm(v, v, 24)
	cx.E.Xor(dst, dst, v)
	cx.CCR.MarkDirty(dsp.CCR_N|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	cx.CCR.Clear(dsp.CCR_V, scratch)
	return nil
}

// Not emits `not a`/`not b`: ones-complement the middle 24-bit field
// only, per spec.md §8's vector (A=0x12555555123456 -> 0x12AAAAAA123456).
// XOR against a mask with exactly that field set flips it and leaves
// the surrounding bytes untouched in one instruction, no AND-then-OR
// trick needed (XOR's neutral element is 0, same reasoning as OrLong).
func (cx *Ctx) Not(ab int, scratch emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	cx.E.MovImm(scratch, notMask)
	cx.E.Xor(dst, dst, scratch)
	cx.CCR.MarkDirty(dsp.CCR_N|dsp.CCR_Z, ccr.Source{ResultReg: dst, Width: accWidth})
	cx.CCR.Clear(dsp.CCR_V, scratch)
	return nil
}
