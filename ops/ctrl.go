package ops

import (
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/memacc"
	"github.com/dsp56300/jitcore/regpool"
)

// Finalize is the common tail of every control-transfer encoder and of
// a block's normal fall-through exit (spec.md §4.7: "commit all DSP
// registers and CCR, write nextPC, and return"): commit the deferred
// CCR bits into the live SR register, write every dirty DSP register
// back to memory, then store nextPCVal into the runtime's nextPC cell.
func (cx *Ctx) Finalize(scratch, nextPCVal emit.Reg, nextPCAddr uintptr, mem *memacc.Emitter) error {
	sr, err := cx.Regs.Get(regpool.RegSR, true, true)
	if err != nil {
		return err
	}
	if err := cx.CCR.Commit(sr, scratch); err != nil {
		return err
	}
	if err := cx.Regs.WritebackAll(); err != nil {
		return err
	}
	mem.StoreCell24(nextPCAddr, nextPCVal)
	return nil
}

// pushStack pushes (pcVal, srVal) onto SS[SP&0xF] after pre-incrementing
// SP, the indexed hardware-stack protocol memacc.Emitter exposes.
func (cx *Ctx) pushStack(mem *memacc.Emitter, ssBase uintptr, pcVal, srVal, scratch, idx emit.Reg) error {
	sp, err := cx.Regs.Get(regpool.RegSP, true, true)
	if err != nil {
		return err
	}
	cx.E.AddImm(sp, sp, 1)
	cx.E.Mov(idx, sp)
	cx.E.AndImm(idx, idx, 0xF)
	mem.StoreStackSSH(idx, ssBase, pcVal, scratch)
	mem.StoreStackSSL(idx, ssBase, srVal, scratch)
	return nil
}

// popStack reads SS[SP&0xF] into (pcDst, srDst) then post-decrements
// SP, RTS's counterpart to pushStack.
func (cx *Ctx) popStack(mem *memacc.Emitter, ssBase uintptr, pcDst, srDst, scratch, idx emit.Reg) error {
	sp, err := cx.Regs.Get(regpool.RegSP, true, true)
	if err != nil {
		return err
	}
	cx.E.Mov(idx, sp)
	cx.E.AndImm(idx, idx, 0xF)
	mem.LoadStackSSH(pcDst, idx, ssBase, scratch)
	mem.LoadStackSSL(srDst, idx, ssBase, scratch)
	cx.E.SubImm(sp, sp, 1)
	return nil
}

// Jmp emits an unconditional `jmp target`.
func (cx *Ctx) Jmp(target dsp.TWord, mem *memacc.Emitter, nextPCAddr uintptr, scratch, tmp emit.Reg) error {
	cx.E.MovImm(tmp, uint64(target))
	return cx.Finalize(scratch, tmp, nextPCAddr, mem)
}

// Jcc emits a conditional `jcc target` (BRA/Jcc family): tmp is set to
// target or fallthroughPC depending on cond, which the caller's
// condition-code decode sequence must already have arranged in the
// host flags (the 16-way DSP condition-code table that combines CCR
// bits into one true/false value is a decode-time concern, evaluated
// by the translator immediately before calling Jcc — this encoder only
// performs the resulting select and the common finalize tail).
func (cx *Ctx) Jcc(cond emit.Cond, target, fallthroughPC dsp.TWord, mem *memacc.Emitter, nextPCAddr uintptr, scratch, tmp, tmp2 emit.Reg) error {
	cx.E.MovImm(tmp, uint64(fallthroughPC))
	cx.E.MovImm(tmp2, uint64(target))
	cx.E.Cmovcc(tmp, tmp2, cond)
	return cx.Finalize(scratch, tmp, nextPCAddr, mem)
}

// Jsr emits `jsr target`: push (returnPC, SR) onto the hardware stack,
// then jump. Conditional BSR is composed by the translator as a host
// branch wrapped around a call to Jsr, the same way it composes Jcc
// around a condition test, rather than threading a Cond through here.
func (cx *Ctx) Jsr(target, returnPC dsp.TWord, mem *memacc.Emitter, ssBase, nextPCAddr uintptr, scratch, idx, pcVal, tmp emit.Reg) error {
	sr, err := cx.Regs.Get(regpool.RegSR, true, true)
	if err != nil {
		return err
	}
	if err := cx.CCR.Commit(sr, scratch); err != nil {
		return err
	}
	cx.E.MovImm(pcVal, uint64(returnPC))
	if err := cx.pushStack(mem, ssBase, pcVal, sr, scratch, idx); err != nil {
		return err
	}
	cx.E.MovImm(tmp, uint64(target))
	return cx.Finalize(scratch, tmp, nextPCAddr, mem)
}

// Rts emits `rts`: pop (PC, SR) off the hardware stack and jump to the
// popped PC. The popped SR is an explicit whole-register write, so any
// still-deferred CCR bits are discarded rather than committed on top
// of it (ccr.DiscardAll, per spec.md §4.5's "explicit writer of SR
// takes precedence").
func (cx *Ctx) Rts(mem *memacc.Emitter, ssBase, nextPCAddr uintptr, scratch, idx, pcVal, srVal emit.Reg) error {
	if err := cx.popStack(mem, ssBase, pcVal, srVal, scratch, idx); err != nil {
		return err
	}
	sr, err := cx.Regs.Get(regpool.RegSR, false, true)
	if err != nil {
		return err
	}
	cx.E.Mov(sr, srVal)
	cx.CCR.DiscardAll()
	return cx.Finalize(scratch, pcVal, nextPCAddr, mem)
}
