// Package translate turns one basic block of guest program memory
// into host machine code (spec.md §4.6/§4.7/§9's "BlockCtx aggregate"):
// a scan loop that decodes instructions until a terminal condition,
// dispatching each to the matching ops encoder, followed by a finalize
// pass and a prologue/epilogue wrap for the callee-save registers the
// block actually touched.
//
// Grounded on
// _examples/original_source/source/dsp56kEmu/dspjitblock.cpp's
// compile loop (decode -> encode -> check terminal conditions ->
// finalize) and on
// _examples/tinyrange-rtg/std/compiler/backend_x64.go's
// compileFunc/compileFuncArm64 split between a body emitter and a
// push/pop prologue-epilogue wrap sized to the registers the body
// actually clobbered.
package translate

import (
	"fmt"

	"github.com/dsp56300/jitcore/blockcache"
	"github.com/dsp56300/jitcore/ccr"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/memacc"
	"github.com/dsp56300/jitcore/ops"
	"github.com/dsp56300/jitcore/regpool"
)

// defaultInstructionLimit bounds a block's length when the embedder
// leaves Config.InstructionLimit unset.
const defaultInstructionLimit = 0x80

// Config is the translator's slice of the embedder-populated
// jit.Config (spec.md §9: "configuration is a plain Go struct, no
// functional options").
type Config struct {
	InstructionLimit int
	IsVolatile       func(pc dsp.TWord) bool
	GuestReadAddr    uintptr
	GuestWriteAddr   uintptr
}

// RuntimeAddrs carries the host addresses of the per-execution runtime
// cells a translated block writes directly into: the fixed
// inter-block handoff fields spec.md §4.7/§4.8 describe (next PC, the
// hardware-stack base, and the self-modification tripwire a guest
// P-memory store sets). Kept as bare addresses rather than a
// jit.Runtime pointer so this package never needs to import jit.
type RuntimeAddrs struct {
	NextPC         uintptr
	SSBase         uintptr
	PMemWriteValid uintptr
	PMemWriteAddr  uintptr
	PMemWriteValue uintptr
}

// Translator holds everything that stays constant across translations
// of one DSP core: its target architecture, the live register file's
// address, the guest memory model, and configuration.
type Translator struct {
	arch     emit.Arch
	regsBase uintptr
	mem      dsp.Memory
	cfg      Config
}

// New builds a Translator. regsBase is the host address of the live
// dsp.Registers value this core's op encoders read/write (obtained by
// the embedder via unsafe.Pointer, the same bridge package regpool
// already documents).
func New(arch emit.Arch, regsBase uintptr, mem dsp.Memory, cfg Config) *Translator {
	if cfg.InstructionLimit <= 0 {
		cfg.InstructionLimit = defaultInstructionLimit
	}
	return &Translator{arch: arch, regsBase: regsBase, mem: mem, cfg: cfg}
}

// BlockCtx is the per-translation aggregate: the host emitter, the
// register pools built fresh for this block, and the scan loop's
// running state.
type BlockCtx struct {
	t    *Translator
	e    emit.Emitter
	pool *regpool.DSPPool
	ccrR *ccr.Deferred
	mem  *memacc.Emitter
	opc  *ops.Ctx

	scratch     []emit.Reg
	scratchNext int

	pcFirst       dsp.TWord
	pc            dsp.TWord
	encodedCount  int
	lastOpSize    int
	flags         blockcache.Flags
	finalizedByOp bool
	rt            RuntimeAddrs
}

func (b *BlockCtx) nextScratch() emit.Reg {
	r := b.scratch[b.scratchNext%len(b.scratch)]
	b.scratchNext++
	return r
}

// commitCCR flushes every still-dirty CCR bit into the live SR
// register and returns it, for op kinds that need to read CCR state
// mid-block (ROL/ROR's carry-in, Jcc's branch test) rather than at the
// block's own finalize.
func (b *BlockCtx) commitCCR() (emit.Reg, error) {
	sr, err := b.opc.Regs.Get(regpool.RegSR, true, true)
	if err != nil {
		return 0, err
	}
	if err := b.ccrR.Commit(sr, b.nextScratch()); err != nil {
		return 0, err
	}
	return sr, nil
}

// Translate compiles the block starting at pcFirst. cacheHit, when
// non-nil, is consulted for every PC after the first (spec.md §4.6's
// first termination condition: "the next PC is already covered by an
// existing cached block") — the very first PC is a cache miss by
// definition, or Translate would not have been called.
func (t *Translator) Translate(pcFirst dsp.TWord, cacheHit func(pc dsp.TWord) bool, rt RuntimeAddrs) (*blockcache.Block, []byte, error) {
	e := emit.New(t.arch)
	stack := regpool.NewStackHelper()
	pool := regpool.NewDSPPool(e, nil, t.regsBase)
	phys := regpool.NewPhysPool(gpPoolRegs(t.arch), gpCalleeSave(t.arch), pool, stack)
	pool.SetPhys(phys)
	ccrR := ccr.New(e)
	mem := memacc.New(e)

	rawScratch := scratchRegs(t.arch)
	scratch := make([]emit.Reg, len(rawScratch))
	for i, r := range rawScratch {
		scratch[i] = emit.Reg(r)
	}

	b := &BlockCtx{
		t:       t,
		e:       e,
		pool:    pool,
		ccrR:    ccrR,
		mem:     mem,
		opc:     &ops.Ctx{E: e, Regs: pool, CCR: ccrR},
		scratch: scratch,
		pcFirst: pcFirst,
		pc:      pcFirst,
		rt:      rt,
	}

	for {
		if b.pc != pcFirst && cacheHit != nil && cacheHit(b.pc) {
			break
		}
		if t.cfg.IsVolatile != nil && b.pc != pcFirst && t.cfg.IsVolatile(b.pc) {
			break
		}

		pcNow := b.pc
		word := t.mem.Get(dsp.AreaP, pcNow)
		instr, size, err := decode(word, func() dsp.TWord { return t.mem.Get(dsp.AreaP, pcNow+1) })
		if err != nil {
			return nil, nil, fmt.Errorf("translate: pc=0x%06x: %w", pcNow, err)
		}
		fallthroughPC := pcNow + dsp.TWord(size)

		terminal, err := b.emit(instr, fallthroughPC)
		if err != nil {
			return nil, nil, fmt.Errorf("translate: pc=0x%06x: %w", pcNow, err)
		}

		b.encodedCount++
		b.lastOpSize = size
		b.pc = fallthroughPC

		if terminal {
			break
		}
		if b.encodedCount >= t.cfg.InstructionLimit {
			b.flags |= blockcache.InstructionLimit
			break
		}
	}

	if !b.finalizedByOp {
		scratchReg := b.nextScratch()
		pcReg := b.nextScratch()
		e.MovImm(pcReg, uint64(b.pc))
		if err := b.opc.Finalize(scratchReg, pcReg, rt.NextPC, mem); err != nil {
			return nil, nil, fmt.Errorf("translate: finalize: %w", err)
		}
	}
	b.flags |= blockcache.Success

	code, err := b.assemble(stack)
	if err != nil {
		return nil, nil, err
	}

	blk := &blockcache.Block{
		PCFirst:                 uint32(pcFirst),
		PMemSize:                uint32(b.pc - pcFirst),
		EncodedInstructionCount: b.encodedCount,
		LastOpSize:              b.lastOpSize,
		SingleOpWord:            b.encodedCount == 1 && b.lastOpSize == 1,
		Flags:                   b.flags,
	}
	return blk, code, nil
}

// assemble wraps the already-emitted body with a push prologue and a
// matching pop-then-ret epilogue built in their own emitters, since the
// callee-save clobber set is only known once the body has been fully
// emitted. Concatenating the three byte slices is safe because every
// branch emit.Emitter produces is relative to its own position (label
// displacements, not absolute addresses), so prefixing the body with a
// fixed-length prologue never perturbs an intra-body jump.
func (b *BlockCtx) assemble(stack *regpool.StackHelper) ([]byte, error) {
	bodyBytes, err := b.e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	prologueE := emit.New(b.t.arch)
	stack.EmitPrologue(prologueE)
	prologueBytes, err := prologueE.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	epilogueE := emit.New(b.t.arch)
	stack.EmitEpilogue(epilogueE)
	epilogueE.Ret()
	epilogueBytes, err := epilogueE.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	code := make([]byte, 0, len(prologueBytes)+len(bodyBytes)+len(epilogueBytes))
	code = append(code, prologueBytes...)
	code = append(code, bodyBytes...)
	code = append(code, epilogueBytes...)
	return code, nil
}
