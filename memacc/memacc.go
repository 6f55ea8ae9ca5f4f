// Package memacc is the memory-access emitter of spec.md §4.4: typed
// loads/stores for DSP memory cells and the 16-entry hardware stack,
// plus the runtime-call trampolines used for guest X/Y/P memory
// accesses that may be I/O-mapped.
//
// Grounded on
// _examples/tinyrange-rtg/std/compiler/x64.go's emitLoadLocal/
// emitStoreLocal (disp8-vs-disp32 selection against a base register)
// and std/compiler/aarch64.go's emitLdr/emitStr (scaled-unsigned-
// immediate vs LDUR/STUR selection) — both already folded into
// emit.Emitter.Load/Store/LoadAbs/StoreAbs, so this package is mostly
// a thin, DSP-shaped wrapper choosing cell widths and addresses.
package memacc

import (
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

// Emitter wraps an emit.Emitter with DSP-cell-typed helpers.
type Emitter struct {
	e emit.Emitter
}

func New(e emit.Emitter) *Emitter { return &Emitter{e: e} }

// LoadCell24/LoadCell48/LoadCell56 load a DSP memory cell at a fixed
// host address into dst, matching the storage widths dsp.Reg24/
// Reg48/Reg56 use (spec.md §4.4: "narrow cells padded to 32-bit
// storage, 48-bit cells to 64-bit").
func (m *Emitter) LoadCell24(dst emit.Reg, addr uintptr) {
	m.e.LoadAbs(dst, emit.AbsMem{Addr: addr}, emit.Size32)
}
func (m *Emitter) StoreCell24(addr uintptr, src emit.Reg) {
	m.e.StoreAbs(emit.AbsMem{Addr: addr}, src, emit.Size32)
}
func (m *Emitter) LoadCell48(dst emit.Reg, addr uintptr) {
	m.e.LoadAbs(dst, emit.AbsMem{Addr: addr}, emit.Size64)
}
func (m *Emitter) StoreCell48(addr uintptr, src emit.Reg) {
	m.e.StoreAbs(emit.AbsMem{Addr: addr}, src, emit.Size64)
}
func (m *Emitter) LoadCell56(dst emit.Reg, addr uintptr) {
	m.e.LoadAbs(dst, emit.AbsMem{Addr: addr}, emit.Size64)
}
func (m *Emitter) StoreCell56(addr uintptr, src emit.Reg) {
	m.e.StoreAbs(emit.AbsMem{Addr: addr}, src, emit.Size64)
}

// hwStackEntrySize is sizeof one SS[i] entry (SSH, SSL both
// TWord), used to scale the SP-indexed addressing below.
const hwStackEntrySize = 8 // two uint32 fields, widened like any TWord pair

// LoadStackSSH/LoadStackSSL (and the matching stores) address
// SS[SP & 0xF] the way spec.md §4.4
// describes ("indexed loads for the hardware stack SS[0..15], using
// SP & 0xF as index, scale 8"): spIndex already holds SP&0xF in a host
// register (callers compute that mask via the DSP register pool), and
// ssBase is the host address of Registers.SS[0].
func (m *Emitter) LoadStackSSH(dst, spIndex emit.Reg, ssBase uintptr, scratch emit.Reg) {
	m.indexedStackAccess(dst, spIndex, ssBase, scratch, 0, true)
}
func (m *Emitter) LoadStackSSL(dst, spIndex emit.Reg, ssBase uintptr, scratch emit.Reg) {
	m.indexedStackAccess(dst, spIndex, ssBase, scratch, 4, true)
}
func (m *Emitter) StoreStackSSH(spIndex emit.Reg, ssBase uintptr, src, scratch emit.Reg) {
	m.indexedStackAccess(src, spIndex, ssBase, scratch, 0, false)
}
func (m *Emitter) StoreStackSSL(spIndex emit.Reg, ssBase uintptr, src, scratch emit.Reg) {
	m.indexedStackAccess(src, spIndex, ssBase, scratch, 4, false)
}

// indexedStackAccess computes ssBase + spIndex*8 + fieldOff into
// scratch, then loads/stores through it; reg (the load destination or
// the store value) is left alone until the access itself, and spIndex
// is scaled in place and restored afterwards. Host emitters have no
// indexed-addressing-mode primitive in the portable vocabulary (Mem is
// base+disp only, per emit.go), so the scale is folded by hand, the
// way the teacher's own ARM64 path falls back to an explicit address
// computation through X16 whenever an offset doesn't fit a compact
// encoding.
func (m *Emitter) indexedStackAccess(reg, spIndex emit.Reg, ssBase uintptr, scratch emit.Reg, fieldOff int32, isLoad bool) {
	m.e.MovImm(scratch, uint64(ssBase))
	m.e.ShlImm(spIndex, spIndex, 3) // * hwStackEntrySize (8)
	m.e.Add(scratch, scratch, spIndex)
	m.e.ShrImm(spIndex, spIndex, 3)
	if isLoad {
		m.e.Load(reg, emit.Mem{Base: scratch, Disp: fieldOff}, emit.Size32)
	} else {
		m.e.Store(emit.Mem{Base: scratch, Disp: fieldOff}, reg, emit.Size32)
	}
}

// GuestCallRegs names the fixed host argument/return registers the
// guest-access trampolines use. A call emitted straight into
// hand-written machine code must land on a known, fixed convention
// rather than Go's internal register-based function ABI, so
// GuestAccessFunc/GuestWriteFunc are implemented by the embedder as
// ordinary C-ABI routines (a cgo export, or a hand-written assembly
// shim) reachable at a fixed address — SysV on x86-64, AAPCS64 on
// arm64 — the same assumption the wider Go-JIT ecosystem makes for
// calls from emitted code back into host logic.
func GuestCallRegs(arch emit.Arch) (argArea, argAddr, ret emit.Reg) {
	if arch == emit.ArchArm64 {
		return emit.Reg(0), emit.Reg(1), emit.Reg(0) // X0, X1 / X0
	}
	return emit.Reg(7), emit.Reg(6), emit.Reg(0) // RDI, RSI / RAX (SysV)
}

// CallGuestRead emits a call to the embedder-supplied guest-read
// trampoline at fnAddr, implementing GuestAccessFunc's (area, addr) ->
// word contract. The caller has already placed area/addr into the
// registers GuestCallRegs names (the Memory pointer itself is baked
// into the trampoline by the embedder, not passed per-call, since one
// JIT instance always targets one Memory); the 24-bit result lands in
// the ret register GuestCallRegs names.
func (m *Emitter) CallGuestRead(fnAddr uintptr) {
	m.e.CallAbs(fnAddr)
}

// CallGuestWrite is CallGuestRead's store counterpart, for
// GuestWriteFunc's (area, addr, word) -> () contract; the caller places
// the word to store into the third integer argument register beyond
// GuestCallRegs's pair (RDX on x64 SysV, X2 on AAPCS64) before calling.
func (m *Emitter) CallGuestWrite(fnAddr uintptr) {
	m.e.CallAbs(fnAddr)
}

// GuestWriteWordReg names the third integer argument register
// CallGuestWrite's caller must place the store value into. It happens
// to be host register index 2 on both architectures (RDX on x64 SysV,
// X2 on AAPCS64), but is named explicitly here rather than left for
// call sites to hardcode.
func GuestWriteWordReg(arch emit.Arch) emit.Reg { return emit.Reg(2) }

// GuestAccessFunc is the signature of a runtime helper consulted for
// guest X/Y/P memory traffic (spec.md §4.4: "emitted as calls to
// runtime helpers that consult the memory map; I/O-mapped ranges
// dispatched through peripheral callbacks"). The translator holds the
// one trampoline address the embedder supplies for it
// (Config.GuestReadAddr) and emits calls into it rather than inlining
// the full memory map.
type GuestAccessFunc func(mem dsp.Memory, area dsp.MemArea, addr dsp.TWord) dsp.TWord

// GuestWriteFunc is the store counterpart. It returns nothing; the
// P-memory self-modification stamp (pMemWriteAddress/pMemWriteValue) is
// emitted by the translator itself around a literal P-memory store.
type GuestWriteFunc func(mem dsp.Memory, area dsp.MemArea, addr, word dsp.TWord)
