package ops

import (
	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/regpool"
)

// Div emits one iteration of `div y0,a`/`div x1,b` etc.: the 24-bit
// non-restoring division step op_Div implements in the reference.
// operand is the JJ-selected 24-bit divisor, already loaded by the
// caller; a,b,c,d are scratch registers distinct from operand and from
// the accumulator. Each call emits exactly one iteration; this package
// has no separate REP-DIV encoder (spec.md §9's resolved open question:
// no specialized unrolled encoding, since the per-iteration body is
// identical and the host branch predictor handles the repeated jcc fine).
//
// V and L are committed immediately rather than deferred: both depend
// on the accumulator's pre-shift value, which the rest of this op goes
// on to mutate, so they have to be read before that happens anyway
// (the reference does the same, explicitly excluding them from its own
// deferred-CCR mask right after computing them).
func (cx *Ctx) Div(ab int, operand, a, b, c, d emit.Reg) error {
	dst, err := cx.Regs.Get(accReg(ab), true, true)
	if err != nil {
		return err
	}
	sr, err := cx.Regs.Get(regpool.RegSR, true, true)
	if err != nil {
		return err
	}

	// V/L: set iff bits 55 and 54 of the pre-shift accumulator differ.
	cx.E.Mov(a, dst)
	cx.E.ShrImm(a, a, 54)
	cx.E.AndImm(a, a, 0x3)
	cx.E.Mov(b, a)
	cx.E.ShrImm(b, b, 1)
	cx.E.Xor(a, a, b) // a = 1 iff the two bits differ
	cx.E.AndImm(a, a, 0x1)

	cx.E.AndImm(sr, sr, int64(^uint32(dsp.CCR_V)))
	cx.E.Mov(b, a)
	cx.E.ShlImm(b, b, 1) // CCR_V bit index
	cx.E.Or(sr, sr, b)
	cx.E.Mov(b, a)
	cx.E.ShlImm(b, b, 6) // CCR_L bit index; OR-only, sticky
	cx.E.Or(sr, sr, b)

	// Widen the divisor into the same 56-bit frame as the accumulator.
	cx.E.Mov(a, operand)
	cx.E.ShlImm(a, a, 40)
	cx.E.SarImm(a, a, 16)

	cx.E.Mov(b, a)
	cx.E.Xor(b, b, dst) // addOrSub

	cx.E.ShlImm(dst, dst, 1)

	// Shift in the current C bit as the new bit 0 (ADC dst,0 without a
	// native add-with-carry primitive in the portable vocabulary).
	cx.E.Bt(sr, 0)
	cx.E.Setcc(c, emit.CondCS)
	cx.E.Add(dst, dst, c)

	cx.E.Mov(d, dst)
	cx.E.AndImm(d, d, 0xFFFFFF) // saved low word

	subLabel := cx.E.NewLabel()
	endLabel := cx.E.NewLabel()
	cx.E.Bt(b, 55)
	cx.E.Jcc(emit.CondCC, subLabel)
	cx.E.Add(dst, dst, a)
	cx.E.Jmp(endLabel)
	cx.E.BindLabel(subLabel)
	cx.E.Sub(dst, dst, a)
	cx.E.BindLabel(endLabel)

	cx.E.AndImm(dst, dst, ^int64(0xFFFFFF))
	cx.E.Or(dst, dst, d)

	// C is set iff bit 55 of the final result is clear.
	cx.CCR.MarkDirty(dsp.CCR_C, ccr.Source{ResultReg: dst, HasTestBit: true, TestBit: 55, Invert: true})
	mask56(cx.E, dst)
	return nil
}
