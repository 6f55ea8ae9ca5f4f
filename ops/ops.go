// Package ops contains the DSP56300 operation encoders of spec.md
// §4.7: one file per instruction class, each decoding operand fields,
// requesting host registers from the DSP register pool, and emitting
// the host instruction sequence that reproduces Motorola's exact
// status-register effects.
//
// Grounded on
// _examples/original_source/source/dsp56kEmu/jitops_alu_x64.inl's
// per-opcode encoder shape (`alu_asl`, `alu_asr`, `alu_and`,
// `alu_bclr`/`bset`/`bchg`) and spec.md §4.7's representative-encoder
// list; exact masking and derivation sequences follow the reference's
// shl/sar/shr width tricks via package ccr.
package ops

import (
	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/regpool"
)

// Ctx bundles the per-translation state an op encoder needs: the host
// emitter, the DSP register pool, and the deferred CCR state machine.
// translate.BlockCtx owns one of these for the duration of a block
// (spec.md §9's "BlockCtx aggregate"); ops stays ignorant of the
// translator's scan loop and only sees this narrower view so it never
// needs to import package translate.
type Ctx struct {
	E    emit.Emitter
	Regs *regpool.DSPPool
	CCR  *ccr.Deferred
}

// accWidth is the ccr.Width for an accumulator operation: encoders
// operating on the full A/B register always work at 56 bits.
const accWidth = ccr.Width56

func accReg(ab int) regpool.RegID {
	if ab == 0 {
		return regpool.RegA
	}
	return regpool.RegB
}

func accShadow(ab int) regpool.RegID {
	if ab == 0 {
		return regpool.RegAwrite
	}
	return regpool.RegBwrite
}

// mask56 re-normalizes a host register to the Reg56 convention after a
// shift or add sequence: shl 8 then sar 8 drops bits 63..56 and
// sign-extends bit 55 across them, leaving the 56-bit two's-complement
// value sign-extended to 64 bits.
func mask56(e emit.Emitter, r emit.Reg) {
	e.ShlImm(r, r, 8)
	e.SarImm(r, r, 8)
}
