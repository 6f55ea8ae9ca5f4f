package ops

import (
	"math/rand/v2"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/memacc"
	"github.com/dsp56300/jitcore/regpool"
)

// newTestCtx mirrors regpool.newTestDSPPool: a real dsp.Registers so
// fieldOffset's absolute addresses are genuine, and a small GP pool
// (host regs 0..7) for accumulators/SR/etc. Op-encoder scratch
// registers in these tests are picked from 8 upward so they never
// alias a pool-managed register.
func newTestCtx(t *testing.T) *Ctx {
	t.Helper()
	regs := &dsp.Registers{}
	base := uintptr(unsafe.Pointer(regs))
	e := emit.New(emit.ArchX64)
	pool := regpool.NewDSPPool(e, nil, base)
	gp := []int{0, 1, 2, 3, 4, 5, 6, 7}
	phys := regpool.NewPhysPool(gp, make([]bool, len(gp)), pool, nil)
	pool.SetPhys(phys)
	return &Ctx{E: e, Regs: pool, CCR: ccr.New(e)}
}

func requireBytes(t *testing.T, e emit.Emitter) {
	t.Helper()
	if _, err := e.Bytes(); err != nil {
		t.Fatalf("Bytes: %v", err)
	}
}

func TestAslMarksCarryAndOverflowAndStatusDirty(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Asl(0, 0, 1, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("Asl: %v", err)
	}
	want := dsp.TWord(dsp.CCR_C | dsp.CCR_V | dsp.CCR_E | dsp.CCR_N | dsp.CCR_U | dsp.CCR_Z)
	if got := cx.CCR.Dirty(); got != want {
		t.Fatalf("Dirty() = 0x%02x, want 0x%02x", got, want)
	}
	requireBytes(t, cx.E)
}

func TestAsrClearsOverflow(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Asr(0, 1, 2, emit.Reg(8), emit.Reg(9)); err != nil {
		t.Fatalf("Asr: %v", err)
	}
	if cx.CCR.Dirty()&dsp.CCR_V != 0 {
		t.Fatalf("expected CCR_V not left dirty by Asr (it is cleared immediately)")
	}
	if got := cx.CCR.Dirty(); got&(dsp.CCR_N|dsp.CCR_Z) == 0 {
		t.Fatalf("expected N/Z dirty after Asr, got 0x%02x", got)
	}
	requireBytes(t, cx.E)
}

func TestRolRorEmitWithoutError(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Rol(0, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("Rol: %v", err)
	}
	if err := cx.Ror(1, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("Ror: %v", err)
	}
	requireBytes(t, cx.E)
}

func TestAddSubMarkCarryAndStatusDirty(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Add(0, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := dsp.TWord(dsp.CCR_C | dsp.CCR_V | dsp.CCR_E | dsp.CCR_N | dsp.CCR_U | dsp.CCR_Z)
	if got := cx.CCR.Dirty(); got != want {
		t.Fatalf("Dirty() = 0x%02x, want 0x%02x", got, want)
	}
	if err := cx.Sub(1, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("Sub: %v", err)
	}
	requireBytes(t, cx.E)
}

func TestAndLongOrLongEorLongNotClearOverflow(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.AndLong(0, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("AndLong: %v", err)
	}
	if cx.CCR.Dirty()&dsp.CCR_V != 0 {
		t.Fatalf("expected CCR_V cleared immediately by AndLong")
	}
	if err := cx.OrLong(1, emit.Reg(8), emit.Reg(9)); err != nil {
		t.Fatalf("OrLong: %v", err)
	}
	if err := cx.EorLong(0, emit.Reg(8), emit.Reg(9)); err != nil {
		t.Fatalf("EorLong: %v", err)
	}
	if err := cx.Not(1, emit.Reg(8)); err != nil {
		t.Fatalf("Not: %v", err)
	}
	requireBytes(t, cx.E)
}

func TestBitfieldOpsMarkOnlyCarryDirty(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Btst(regpool.RegX, 3, emit.Reg(8)); err != nil {
		t.Fatalf("Btst: %v", err)
	}
	if got := cx.CCR.Dirty(); got != dsp.CCR_C {
		t.Fatalf("Dirty() after Btst = 0x%02x, want CCR_C only", got)
	}
	if err := cx.Bset(regpool.RegY, 0, emit.Reg(8)); err != nil {
		t.Fatalf("Bset: %v", err)
	}
	if err := cx.Bclr(regpool.RegY, 1, emit.Reg(8)); err != nil {
		t.Fatalf("Bclr: %v", err)
	}
	if err := cx.Bchg(regpool.RegY, 2, emit.Reg(8)); err != nil {
		t.Fatalf("Bchg: %v", err)
	}
	requireBytes(t, cx.E)
}

func TestExtractUMarksNZDirty(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.ExtractU(1, 0, 0x28, 0xC); err != nil {
		t.Fatalf("ExtractU: %v", err)
	}
	want := dsp.TWord(dsp.CCR_N | dsp.CCR_Z)
	if got := cx.CCR.Dirty(); got != want {
		t.Fatalf("Dirty() = 0x%02x, want 0x%02x", got, want)
	}
	requireBytes(t, cx.E)
}

func TestDivMarksCarryDirtyOnly(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Div(0, emit.Reg(8), emit.Reg(9), emit.Reg(10), emit.Reg(11), emit.Reg(12)); err != nil {
		t.Fatalf("Div: %v", err)
	}
	if got := cx.CCR.Dirty(); got != dsp.CCR_C {
		t.Fatalf("Dirty() = 0x%02x, want CCR_C only (V/L commit immediately)", got)
	}
	requireBytes(t, cx.E)
}

func TestRndMarksStatusDirty(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Rnd(0, emit.Reg(8), emit.Reg(9), emit.Reg(10), emit.Reg(11), emit.Reg(12)); err != nil {
		t.Fatalf("Rnd: %v", err)
	}
	want := dsp.TWord(dsp.CCR_E | dsp.CCR_N | dsp.CCR_U | dsp.CCR_Z | dsp.CCR_V)
	if got := cx.CCR.Dirty(); got != want {
		t.Fatalf("Dirty() = 0x%02x, want 0x%02x", got, want)
	}
	requireBytes(t, cx.E)
}

func TestMoveAndParallelMoveProtocol(t *testing.T) {
	cx := newTestCtx(t)
	if err := cx.Move(regpool.RegX, regpool.RegY); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := cx.MoveParallel(0, regpool.RegX); err != nil {
		t.Fatalf("MoveParallel: %v", err)
	}
	if err := cx.CommitParallelMove(0); err != nil {
		t.Fatalf("CommitParallelMove: %v", err)
	}

	mem := memacc.New(cx.E)
	if err := cx.MoveMemory(regpool.RegX, mem, 0x1000, true, 24); err != nil {
		t.Fatalf("MoveMemory load: %v", err)
	}
	if err := cx.MoveMemory(regpool.RegY, mem, 0x1004, false, 48); err != nil {
		t.Fatalf("MoveMemory store: %v", err)
	}
	if err := cx.MoveLong(1, mem, 0x2000, true); err != nil {
		t.Fatalf("MoveLong load: %v", err)
	}
	requireBytes(t, cx.E)
}

func TestCtrlOpsFinalizeAndStack(t *testing.T) {
	cx := newTestCtx(t)
	mem := memacc.New(cx.E)
	const nextPCAddr = uintptr(0x500)
	const ssBase = uintptr(0x600)

	if err := cx.Jmp(0x100, mem, nextPCAddr, emit.Reg(8), emit.Reg(9)); err != nil {
		t.Fatalf("Jmp: %v", err)
	}
	if cx.CCR.Dirty() != 0 {
		t.Fatalf("expected Finalize to fully commit CCR, Dirty()=0x%02x", cx.CCR.Dirty())
	}

	cx2 := newTestCtx(t)
	if err := cx2.Jcc(emit.CondEQ, 0x200, 0x104, mem, nextPCAddr, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
		t.Fatalf("Jcc: %v", err)
	}

	cx3 := newTestCtx(t)
	if err := cx3.Jsr(0x300, 0x108, mem, ssBase, nextPCAddr, emit.Reg(8), emit.Reg(9), emit.Reg(10), emit.Reg(11)); err != nil {
		t.Fatalf("Jsr: %v", err)
	}

	cx4 := newTestCtx(t)
	if err := cx4.Rts(mem, ssBase, nextPCAddr, emit.Reg(8), emit.Reg(9), emit.Reg(10), emit.Reg(11)); err != nil {
		t.Fatalf("Rts: %v", err)
	}
	requireBytes(t, cx.E)
}

func TestDoEnddoRoundTripsStack(t *testing.T) {
	cx := newTestCtx(t)
	mem := memacc.New(cx.E)
	const ssBase = uintptr(0x700)

	if err := cx.Do(0x50, emit.Reg(8), mem, ssBase, emit.Reg(9), emit.Reg(10), emit.Reg(11)); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if err := cx.Enddo(mem, ssBase, emit.Reg(9), emit.Reg(10), emit.Reg(11), emit.Reg(12)); err != nil {
		t.Fatalf("Enddo: %v", err)
	}
	if cx.CCR.Dirty() != 0 {
		t.Fatalf("expected Enddo's SR restore to discard deferred CCR bits")
	}
	requireBytes(t, cx.E)
}

// newExecutableCtx is newTestCtx's counterpart for tests that actually
// run the generated code rather than only inspecting CCR bookkeeping
// and Bytes(). It uses the same host register partition
// translate/regs.go assigns the real translator (RCX, RBX, R12-R15 for
// the DSP pool; R8-R11 for op-encoder scratch), since code built here
// executes for real and must not clobber RSP, RBP, or anything the Go
// runtime is keeping live in a register outside that partition.
func newExecutableCtx(t *testing.T, regs *dsp.Registers) (*Ctx, *regpool.StackHelper) {
	t.Helper()
	base := uintptr(unsafe.Pointer(regs))
	e := emit.New(emit.ArchX64)
	stack := regpool.NewStackHelper()
	pool := regpool.NewDSPPool(e, nil, base)
	gp := []int{1, 3, 12, 13, 14, 15} // RCX, RBX, R12-R15
	calleeSave := []bool{false, true, true, true, true, true}
	phys := regpool.NewPhysPool(gp, calleeSave, pool, stack)
	pool.SetPhys(phys)
	return &Ctx{E: e, Regs: pool, CCR: ccr.New(e)}, stack
}

// runGeneratedTestCode wraps e's emitted body in stack's prologue/
// epilogue (mirroring translate.BlockCtx.assemble), installs it into an
// executable mapping, and calls it — the only way to actually observe
// whether an op encoder leaves host registers and DSP memory in the
// state it claims to, as opposed to just checking that CCR bookkeeping
// and Bytes() look right.
func runGeneratedTestCode(t *testing.T, e emit.Emitter, stack *regpool.StackHelper) {
	t.Helper()
	body, err := e.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	prologueE := emit.New(emit.ArchX64)
	stack.EmitPrologue(prologueE)
	prologue, err := prologueE.Bytes()
	if err != nil {
		t.Fatalf("prologue Bytes: %v", err)
	}

	epilogueE := emit.New(emit.ArchX64)
	stack.EmitEpilogue(epilogueE)
	epilogueE.Ret()
	epilogue, err := epilogueE.Bytes()
	if err != nil {
		t.Fatalf("epilogue Bytes: %v", err)
	}

	code := make([]byte, 0, len(prologue)+len(body)+len(epilogue))
	code = append(code, prologue...)
	code = append(code, body...)
	code = append(code, epilogue...)

	arena, err := unix.Mmap(-1, 0, len(code),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	defer func() {
		if err := unix.Munmap(arena); err != nil {
			t.Fatalf("munmap: %v", err)
		}
	}()
	copy(arena, code)

	type funcval struct{ fn uintptr }
	fv := &funcval{fn: uintptr(unsafe.Pointer(&arena[0]))}
	fn := *(*func())(unsafe.Pointer(&fv))
	fn()
}

// randSigned56 returns a uniformly random value in the 56-bit signed
// range, already sign-extended to 64 bits per the Reg56 convention.
func randSigned56(rng *rand.Rand) int64 {
	const mask56 = uint64(1)<<56 - 1
	v := rng.Uint64() & mask56
	if v&(1<<55) != 0 {
		v |= ^mask56
	}
	return int64(v)
}

// expectedAsl computes ASL's result independently of the shift-by-8
// hardware technique alu_asl/Asl use: truncate a<<shift to 56 bits and
// sign-extend from the new bit 55.
func expectedAsl(a int64, shift uint8) uint64 {
	const mask56 = uint64(1)<<56 - 1
	v := (uint64(a) << shift) & mask56
	if v&(1<<55) != 0 {
		v |= ^mask56
	}
	return v
}

// TestAslWritesSignExtendedResult regresses the bug where Asl's final
// ShrImm undid the pre-shift-by-8 but never re-sign-extended: for a
// negative result, the accumulator written back to DSP memory came out
// zero-padded in bits 56-63 instead of matching the Reg56 convention
// every other consumer (emitLoad, the other ALU ops' mask56 calls)
// relies on. Running Asl alone and inspecting regs.A.Var straight after
// WritebackAll (rather than through another op that would itself
// re-normalize the top byte) is what catches that.
func TestAslWritesSignExtendedResult(t *testing.T) {
	rng := rand.New(rand.NewPCG(0x41534c, 0x5347))
	for i := 0; i < 64; i++ {
		shift := uint8(1 + rng.IntN(23))
		a := randSigned56(rng)

		regs := &dsp.Registers{A: dsp.Reg56{Var: uint64(a)}}
		cx, stack := newExecutableCtx(t, regs)

		if err := cx.Asl(0, 0, shift, emit.Reg(8), emit.Reg(9), emit.Reg(10)); err != nil {
			t.Fatalf("iter %d: Asl: %v", i, err)
		}
		if err := cx.Regs.WritebackAll(); err != nil {
			t.Fatalf("iter %d: WritebackAll: %v", i, err)
		}

		runGeneratedTestCode(t, cx.E, stack)

		if want := expectedAsl(a, shift); regs.A.Var != want {
			t.Fatalf("iter %d: shift=%d a=0x%016x: Asl wrote 0x%016x, want 0x%016x (sign-extended per the Reg56 convention)",
				i, shift, uint64(a), regs.A.Var, want)
		}
	}
}

// TestAslAsrRoundTripRandomAccumulators is spec.md §8's seeded-PRNG
// property check: for random 56-bit accumulators and shift counts, asl
// then asr round-trips every bit not lost to overflow, with CCR_V set
// iff overflow actually occurred. CCR is committed into SR right after
// Asl and before Asr runs, since Asr's own CCR_V handling (an immediate
// Clear, not a deferred one) would otherwise have nothing to do with
// the bit we actually want to inspect, but commits sequenced the other
// way round would lose Asl's derivation before it's ever read back.
func TestAslAsrRoundTripRandomAccumulators(t *testing.T) {
	rng := rand.New(rand.NewPCG(0x41534c52, 0x545249505f5254))
	const iterations = 200
	for i := 0; i < iterations; i++ {
		shift := uint8(1 + rng.IntN(23))
		a := randSigned56(rng)

		regs := &dsp.Registers{A: dsp.Reg56{Var: uint64(a)}}
		cx, stack := newExecutableCtx(t, regs)

		scratch, vsave, captureC := emit.Reg(8), emit.Reg(9), emit.Reg(10)
		if err := cx.Asl(0, 0, shift, scratch, vsave, captureC); err != nil {
			t.Fatalf("iter %d: Asl: %v", i, err)
		}

		sr, err := cx.Regs.Get(regpool.RegSR, true, true)
		if err != nil {
			t.Fatalf("iter %d: Get RegSR: %v", i, err)
		}
		if err := cx.CCR.Commit(sr, emit.Reg(11)); err != nil {
			t.Fatalf("iter %d: Commit: %v", i, err)
		}

		if err := cx.Asr(0, 0, shift, scratch, captureC); err != nil {
			t.Fatalf("iter %d: Asr: %v", i, err)
		}
		if err := cx.Regs.WritebackAll(); err != nil {
			t.Fatalf("iter %d: WritebackAll: %v", i, err)
		}

		runGeneratedTestCode(t, cx.E, stack)

		// The (shift+1)-bit field at the top of a's 56-bit frame,
		// isolated as a signed value: ASL overflows iff it isn't
		// uniformly 0 or -1, i.e. bit 55 doesn't survive unchanged
		// through every intermediate shift.
		top := a >> uint(55-int(shift))
		wantOverflow := top != 0 && top != -1
		gotOverflow := regs.SR&dsp.CCR_V != 0
		if gotOverflow != wantOverflow {
			t.Fatalf("iter %d: shift=%d a=0x%016x: CCR_V=%v, want %v", i, shift, uint64(a), gotOverflow, wantOverflow)
		}

		lowBits := uint64(1)<<uint(56-shift) - 1
		if got, want := regs.A.Var&lowBits, uint64(a)&lowBits; got != want {
			t.Fatalf("iter %d: shift=%d a=0x%016x: asl/asr round trip lost bits that weren't overflowed away: got 0x%x want 0x%x",
				i, shift, uint64(a), got, want)
		}
		if !wantOverflow && regs.A.Var != uint64(a) {
			t.Fatalf("iter %d: shift=%d a=0x%016x: round trip without overflow should be exact, got 0x%016x",
				i, shift, uint64(a), regs.A.Var)
		}
	}
}
