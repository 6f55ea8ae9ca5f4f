// Package jit is the embedder-facing entry point of spec.md §6/§9: it
// owns the executable code arena, the block cache, and the per-step
// Step call that looks a PC up in the cache, translates on a miss,
// installs the result, and calls into it.
//
// Grounded on
// _examples/other_examples/dae1d11e_tetratelabs-wazero__wasm-jit-jit_amd64.go.go's
// compiledFunction (assembled code copied into an executable segment,
// called through a fixed-signature trampoline) for the overall
// translate-install-call shape, adapted to this module's block ABI:
// since every address a block touches (register file fields, next-PC
// cell, hardware-stack base) is baked in as an absolute host address
// at translate time, a block takes no arguments and returns nothing,
// so the call-in trampoline needs only a bare func() rather than
// wazero's argument-marshaling assembly stub.
package jit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dsp56300/jitcore/blockcache"
	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
	"github.com/dsp56300/jitcore/internal/logx"
	"github.com/dsp56300/jitcore/translate"
)

// Block is a translated, cached unit of guest code. Defined in package
// blockcache (translate also needs it, and translate cannot import
// jit without a cycle); jit only aliases the name so callers can speak
// of jit.Block without reaching into blockcache themselves.
type Block = blockcache.Block

// Config configures a JIT instance (spec.md §9: "configuration is a
// plain Go struct, no functional options").
type Config struct {
	// InstructionLimit bounds a single block's length; 0 selects a
	// reasonable default.
	InstructionLimit int
	// IsVolatile reports whether pc must never be folded into a
	// cached block (spec.md §4.8).
	IsVolatile func(pc dsp.TWord) bool
	// CodeArenaSize is the executable arena's byte size; 0 selects a
	// default (16 MiB).
	CodeArenaSize int
	// GuestReadAddr/GuestWriteAddr are C-ABI-compatible trampoline
	// addresses the embedder supplies for guest memory traffic that
	// memacc can't resolve to a bridged host address directly (see
	// memacc.GuestAccessFunc/GuestWriteFunc).
	GuestReadAddr  uintptr
	GuestWriteAddr uintptr
	// Logger receives block-compile/invalidate diagnostics; nil
	// discards them.
	Logger *slog.Logger
}

// Runtime is the inter-block handoff state a translated block writes
// directly into via absolute-address stores (spec.md §4.7/§4.8): the
// next PC to execute once the current block returns, a running guest
// instruction counter, and the self-modification tripwire a literal
// guest P-memory store sets so Step knows to invalidate before
// re-entering the cache.
type Runtime struct {
	NextPC                   dsp.TWord
	ExecutedInstructionCount uint64
	PMemWriteValid           uint32
	PMemWriteAddress         dsp.TWord
	PMemWriteValue           dsp.TWord
}

// Sentinel errors surfaced to the embedder (spec.md §7's error
// taxonomy). ErrUnknownOpcode and ErrBadEncoding are re-exported from
// package translate so callers only need to import jit's error set.
var (
	ErrUnknownOpcode  = translate.ErrUnknownOpcode
	ErrBadEncoding    = translate.ErrBadEncoding
	ErrArenaExhausted = errors.New("jit: code arena exhausted")
)

const defaultArenaSize = 16 << 20 // 16 MiB

// JIT owns one DSP core's translator, block cache, and executable code
// arena. Not safe for concurrent Step calls against the same instance
// (the underlying dsp.Registers isn't either); installBlock's own
// bookkeeping is guarded separately since a background prefetch
// translator is a plausible embedder extension even though Step itself
// is single-threaded.
type JIT struct {
	arch    emit.Arch
	mem     dsp.Memory
	regs    uintptr
	cfg     Config
	tr      *translate.Translator
	cache   *blockcache.Cache
	log     *slog.Logger
	rt      *Runtime
	rtAddrs translate.RuntimeAddrs
	ssBase  uintptr

	mu    sync.Mutex
	arena []byte
	used  int
}

// New builds a JIT for arch targeting regs (the embedder's live
// register file, addressed via unsafe.Pointer the way package regpool
// already bridges Go structs into absolute host addresses) and mem
// (the guest memory model), caching up to pMemSize program-memory
// cells. rt is the Runtime instance Step's translated blocks hand
// control back through; the embedder owns its lifetime.
func New(arch emit.Arch, regs *dsp.Registers, mem dsp.Memory, pMemSize int, rt *Runtime, cfg Config) (*JIT, error) {
	arenaSize := cfg.CodeArenaSize
	if arenaSize <= 0 {
		arenaSize = defaultArenaSize
	}
	// A single RWX mapping, not a W^X two-phase allocator: this
	// module never frees or rewrites installed code, so there is no
	// window in which relaxing W^X trades away anything a stricter
	// scheme would have protected, and the simpler arena keeps
	// installBlock a plain bump allocation with no page-boundary
	// bookkeeping.
	arena, err := unix.Mmap(-1, 0, arenaSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap code arena: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logx.Discard()
	}

	regsBase := uintptr(unsafe.Pointer(regs))
	ssBase := regsBase + unsafe.Offsetof(dsp.Registers{}.SS)

	tr := translate.New(arch, regsBase, mem, translate.Config{
		InstructionLimit: cfg.InstructionLimit,
		IsVolatile:       cfg.IsVolatile,
		GuestReadAddr:    cfg.GuestReadAddr,
		GuestWriteAddr:   cfg.GuestWriteAddr,
	})

	j := &JIT{
		arch:   arch,
		mem:    mem,
		regs:   regsBase,
		cfg:    cfg,
		tr:     tr,
		cache:  blockcache.New(pMemSize),
		log:    log,
		rt:     rt,
		arena:  arena,
		ssBase: ssBase,
	}
	j.rtAddrs = translate.RuntimeAddrs{
		NextPC:         uintptr(unsafe.Pointer(&rt.NextPC)),
		SSBase:         ssBase,
		PMemWriteValid: uintptr(unsafe.Pointer(&rt.PMemWriteValid)),
		PMemWriteAddr:  uintptr(unsafe.Pointer(&rt.PMemWriteAddress)),
		PMemWriteValue: uintptr(unsafe.Pointer(&rt.PMemWriteValue)),
	}
	return j, nil
}

// Close releases the code arena. The JIT must not be used afterward.
func (j *JIT) Close() error {
	if j.arena == nil {
		return nil
	}
	err := unix.Munmap(j.arena)
	j.arena = nil
	return err
}

// installBlock bump-allocates room in the executable arena and copies
// code in. Blocks are never individually freed (spec.md §4.8 has no
// block-eviction story, only cache-table invalidation); the arena is
// recycled only by the embedder tearing the whole JIT down.
func (j *JIT) installBlock(code []byte) (uintptr, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.used+len(code) > len(j.arena) {
		return 0, ErrArenaExhausted
	}
	start := j.used
	copy(j.arena[start:], code)
	j.used += len(code)
	return uintptr(unsafe.Pointer(&j.arena[start])), nil
}

// Step runs guest code starting at pc until the current block returns
// control (a loop-end, an instruction-limit cutoff, a volatile-PC
// boundary, or a control-transfer instruction), translating and
// installing a block first if pc isn't already cached. It returns the
// block that ran and the next PC to resume at (Runtime.NextPC, mirrored
// back for convenience).
func (j *JIT) Step(pc dsp.TWord) (*Block, dsp.TWord, error) {
	if j.rt.PMemWriteValid != 0 {
		j.cache.Invalidate(j.rt.PMemWriteAddress)
		j.rt.PMemWriteValid = 0
		j.log.Debug("invalidated block after guest P-memory write", "addr", j.rt.PMemWriteAddress)
	}

	blk := j.cache.Lookup(uint32(pc))
	if blk == nil || blk.PCFirst != uint32(pc) {
		// A block that only covers pc mid-range starts elsewhere, so
		// its code cannot be entered at pc.
		var err error
		blk, err = j.compile(pc)
		if err != nil {
			return nil, 0, err
		}
	}

	fn := makeBlockFunc(blk.CodeAddr)
	fn()
	blk.ExecutedInstructionCount += uint64(blk.EncodedInstructionCount)
	j.rt.ExecutedInstructionCount += uint64(blk.EncodedInstructionCount)
	return blk, j.rt.NextPC, nil
}

// compile translates the block at pc, installs its code into the
// arena, and inserts it into the cache unless pc is volatile. The scan
// also stops before any PC marked volatile through MarkVolatile.
func (j *JIT) compile(pc dsp.TWord) (*Block, error) {
	cacheHit := func(p dsp.TWord) bool {
		return j.cache.Lookup(uint32(p)) != nil || j.cache.IsVolatile(uint32(p))
	}
	blk, code, err := j.tr.Translate(pc, cacheHit, j.rtAddrs)
	if err != nil {
		return nil, err
	}
	addr, err := j.installBlock(code)
	if err != nil {
		return nil, err
	}
	blk.CodeAddr = addr
	volatile := j.cache.IsVolatile(uint32(pc)) || (j.cfg.IsVolatile != nil && j.cfg.IsVolatile(pc))
	if !volatile {
		if err := j.cache.Insert(blk); err != nil {
			return nil, err
		}
	}
	j.log.Debug("compiled block", "pc", pc, "words", blk.PMemSize, "instructions", blk.EncodedInstructionCount)
	return blk, nil
}

// MarkVolatile/UnmarkVolatile forward to the block cache, the
// embedder's hook for memory-mapped ranges that must never be folded
// into a cached block (spec.md §4.8).
func (j *JIT) MarkVolatile(pc dsp.TWord)   { j.cache.MarkVolatile(uint32(pc)) }
func (j *JIT) UnmarkVolatile(pc dsp.TWord) { j.cache.UnmarkVolatile(uint32(pc)) }

// funcval is the runtime representation of a non-nil Go func value: a
// pointer to a closure object whose first word is the entry PC. Built
// afresh on every Step call rather than stored on the Block, since it
// is a single-word allocation.
type funcval struct {
	fn uintptr
}

// makeBlockFunc turns a raw code address into a callable Go value.
// Every translated block's ABI is a bare func(): arguments never cross
// the call boundary because every address a block needs (register
// file fields, the runtime handoff cells) was baked in as an absolute
// host address at translate time, so there is nothing for an
// argument-marshaling trampoline to do.
func makeBlockFunc(codeAddr uintptr) func() {
	fv := &funcval{fn: codeAddr}
	return *(*func())(unsafe.Pointer(&fv))
}
