package translate

import (
	"fmt"

	"github.com/dsp56300/jitcore/blockcache"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/memacc"
	"github.com/dsp56300/jitcore/regpool"
)

// emit dispatches one decoded instruction to its ops encoder, reports
// whether it ends the block (a control-transfer op, which has already
// called ops.Finalize itself), and sets b.finalizedByOp accordingly so
// Translate knows not to finalize a second time.
func (b *BlockCtx) emit(ins instruction, fallthroughPC dsp.TWord) (terminal bool, err error) {
	switch ins.kind {
	case kindASL:
		return false, b.opc.Asl(ins.ab, ins.ab, ins.shift, b.nextScratch(), b.nextScratch(), b.nextScratch())

	case kindASR:
		return false, b.opc.Asr(ins.ab, ins.ab, ins.shift, b.nextScratch(), b.nextScratch())

	case kindROL:
		oldC, err := b.materializeCCRBit(dsp.CCR_C)
		if err != nil {
			return false, err
		}
		return false, b.opc.Rol(ins.ab, oldC, b.nextScratch(), b.nextScratch())

	case kindROR:
		oldC, err := b.materializeCCRBit(dsp.CCR_C)
		if err != nil {
			return false, err
		}
		return false, b.opc.Ror(ins.ab, oldC, b.nextScratch(), b.nextScratch())

	case kindNOT:
		return false, b.opc.Not(ins.ab, b.nextScratch())

	case kindEXTRACTU:
		return false, b.opc.ExtractU(ins.abSrc, ins.abDst, ins.offset, ins.width)

	case kindDIV:
		operand := b.nextScratch()
		if err := b.opc.Regs.Read(operand, regpool.RegY); err != nil {
			return false, err
		}
		return false, b.opc.Div(ins.ab, operand, b.nextScratch(), b.nextScratch(), b.nextScratch(), b.nextScratch())

	case kindMOVE:
		return false, b.opc.Move(ins.dstReg, ins.srcReg)

	case kindMOVEMEM:
		return false, b.emitMove(ins)

	case kindMOVELONG:
		return false, b.emitMoveLong(ins)

	case kindJMP:
		b.finalizedByOp = true
		return true, b.opc.Jmp(ins.target, b.mem, b.rt.NextPC, b.nextScratch(), b.nextScratch())

	case kindJCC:
		sr, err := b.commitCCR()
		if err != nil {
			return false, err
		}
		bitIdx := ins.ccrBit & 0x7
		b.e.Bt(sr, bitIdx)
		cc := emit.CondCS
		if ins.ccrBit&0x80 != 0 {
			cc = emit.CondCC
		}
		b.finalizedByOp = true
		return true, b.opc.Jcc(cc, ins.target, fallthroughPC, b.mem, b.rt.NextPC, b.nextScratch(), b.nextScratch(), b.nextScratch())

	case kindJSR:
		b.finalizedByOp = true
		return true, b.opc.Jsr(ins.target, fallthroughPC, b.mem, b.rt.SSBase, b.rt.NextPC,
			b.nextScratch(), b.nextScratch(), b.nextScratch(), b.nextScratch())

	case kindRTS:
		b.finalizedByOp = true
		return true, b.opc.Rts(b.mem, b.rt.SSBase, b.rt.NextPC,
			b.nextScratch(), b.nextScratch(), b.nextScratch(), b.nextScratch())

	case kindDO:
		newLC := b.nextScratch()
		b.e.MovImm(newLC, uint64(ins.count))
		return false, b.opc.Do(ins.target, newLC, b.mem, b.rt.SSBase, b.nextScratch(), b.nextScratch(), b.nextScratch())

	case kindENDDO:
		b.flags |= blockcache.LoopEnd
		return false, b.opc.Enddo(b.mem, b.rt.SSBase, b.nextScratch(), b.nextScratch(), b.nextScratch(), b.nextScratch())

	default:
		return false, fmt.Errorf("%w: instruction kind %d", ErrUnknownOpcode, ins.kind)
	}
}

// emitMove encodes a MOVE to/from guest X/Y/P memory: a direct
// memacc.Emitter cell access when the target address is bridgeable, a
// call through the embedder's guest-access trampoline otherwise (e.g.
// an I/O-mapped peripheral range per dsp.Memory.BridgedAddress's
// contract). A literal store to guest program memory additionally
// stamps RuntimeAddrs' self-modification tripwire, since the address
// is a compile-time-known immediate in this decode scheme and the
// block cache needs to know which address range to invalidate.
func (b *BlockCtx) emitMove(ins instruction) error {
	if addr, ok := b.t.mem.BridgedAddress(ins.guestArea, ins.guestAddr); ok {
		if err := b.opc.MoveMemory(ins.dstReg, b.mem, addr, ins.isLoad, ins.memWidth); err != nil {
			return err
		}
		if !ins.isLoad && ins.guestArea == dsp.AreaP {
			b.stampPMemWrite(ins.guestAddr, ins.dstReg)
		}
		return nil
	}
	if err := b.emitGuestAccess(ins.dstReg, ins.guestArea, ins.guestAddr, ins.isLoad); err != nil {
		return err
	}
	if !ins.isLoad && ins.guestArea == dsp.AreaP {
		b.stampPMemWrite(ins.guestAddr, ins.dstReg)
	}
	return nil
}

func (b *BlockCtx) emitMoveLong(ins instruction) error {
	addr, ok := b.t.mem.BridgedAddress(ins.guestArea, ins.guestAddr)
	if !ok {
		return fmt.Errorf("translate: MOVE L: against a non-bridged address is not supported")
	}
	if err := b.opc.MoveLong(ins.ab, b.mem, addr, ins.isLoad); err != nil {
		return err
	}
	if !ins.isLoad && ins.guestArea == dsp.AreaP {
		b.stampPMemWrite(ins.guestAddr, regpool.RegID(-1))
	}
	return nil
}

// stampPMemWrite records a literal guest P-memory store into
// RuntimeAddrs so the embedder can invalidate the affected block
// before its next execution (spec.md §4.8). reg, when valid, is read
// back out of the pool for the stored value; MOVE L: against an
// accumulator has no single source register to report, so it passes
// -1 and only the address is recorded.
func (b *BlockCtx) stampPMemWrite(addr dsp.TWord, reg regpool.RegID) {
	flag := b.nextScratch()
	b.e.MovImm(flag, 1)
	b.e.StoreAbs(emit.AbsMem{Addr: b.rt.PMemWriteValid}, flag, emit.Size32)

	addrReg := b.nextScratch()
	b.e.MovImm(addrReg, uint64(addr))
	b.e.StoreAbs(emit.AbsMem{Addr: b.rt.PMemWriteAddr}, addrReg, emit.Size32)

	if reg >= 0 {
		val, err := b.opc.Regs.Get(reg, true, false)
		if err == nil {
			b.e.StoreAbs(emit.AbsMem{Addr: b.rt.PMemWriteValue}, val, emit.Size32)
		}
	}
}

// emitGuestAccess calls the embedder-supplied guest-read/write
// trampoline for an address memacc couldn't bridge directly.
func (b *BlockCtx) emitGuestAccess(reg regpool.RegID, area dsp.MemArea, addr dsp.TWord, isLoad bool) error {
	argArea, argAddr, ret := memacc.GuestCallRegs(b.t.arch)
	if isLoad {
		b.e.MovImm(argArea, uint64(area))
		b.e.MovImm(argAddr, uint64(addr))
		b.mem.CallGuestRead(b.t.cfg.GuestReadAddr)
		dst, err := b.opc.Regs.Get(reg, false, true)
		if err != nil {
			return err
		}
		b.e.Mov(dst, ret)
		return nil
	}
	src, err := b.opc.Regs.Get(reg, true, false)
	if err != nil {
		return err
	}
	wordArg := memacc.GuestWriteWordReg(b.t.arch)
	b.e.MovImm(argArea, uint64(area))
	b.e.MovImm(argAddr, uint64(addr))
	b.e.Mov(wordArg, src)
	b.mem.CallGuestWrite(b.t.cfg.GuestWriteAddr)
	return nil
}

// materializeCCRBit commits every dirty CCR bit into SR, then extracts
// bit into a fresh scratch register as a 0/1 value (ROL/ROR's oldC
// operand needs a concrete register, not a deferred flag).
func (b *BlockCtx) materializeCCRBit(bit dsp.TWord) (emit.Reg, error) {
	sr, err := b.commitCCR()
	if err != nil {
		return 0, err
	}
	dst := b.nextScratch()
	b.e.Bt(sr, bitIndex(bit))
	b.e.Setcc(dst, emit.CondCS)
	return dst, nil
}

func bitIndex(bit dsp.TWord) uint8 {
	idx := uint8(0)
	for v := dsp.TWord(1); v != bit; v <<= 1 {
		idx++
	}
	return idx
}
