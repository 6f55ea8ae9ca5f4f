// Package blockcache implements the translated-code cache of spec.md
// §4.8: a dense PC-indexed table of compiled blocks, a volatile-PC set
// that bypasses caching entirely, and the invalidation sweep a guest
// program-memory write triggers.
//
// Grounded on
// _examples/original_source/source/dsp56kEmu/jitblock.h's JitBlock
// struct (pc, pMemSize, flags, code pointer) and jitcache.cpp's
// per-PC pointer table, reshaped the way
// _examples/tinyrange-rtg/std/compiler/backend.go keeps one flat Go
// slice indexed by a small integer key instead of a map wherever the
// key space is dense and bounded.
package blockcache

import "fmt"

// Flags records terminal-condition and outcome bits for a translated
// block, mirroring jitblock.h's JitBlockFlags enum.
type Flags uint8

const (
	Success Flags = 1 << iota
	WritePMem
	LoopEnd
	InstructionLimit
)

// Block is one compiled unit of guest code: the PC range it covers,
// how many guest instructions it encodes versus has actually executed
// (the latter is runtime bookkeeping the embedder may use for
// profiling, not consulted by the cache itself), and the host code
// address jit.installBlock assigned it.
type Block struct {
	PCFirst                  uint32
	PMemSize                 uint32
	EncodedInstructionCount  int
	ExecutedInstructionCount uint64
	LastOpSize               int
	SingleOpWord             bool
	Flags                    Flags
	CodeAddr                 uintptr
}

// Cache is a dense PC -> *Block table sized to the guest program
// memory, plus the volatile-PC set spec.md §4.8 calls out. Lookup
// never returns a block for a PC in that set, forcing a fresh
// translation every time it's entered; Insert does not consult the set,
// so keeping volatile PCs out of inserted blocks is the caller's job.
type Cache struct {
	table    []*Block
	volatile map[uint32]bool
}

// New builds a Cache over a P-memory of pMemSize cells.
func New(pMemSize int) *Cache {
	return &Cache{
		table:    make([]*Block, pMemSize),
		volatile: make(map[uint32]bool),
	}
}

// Lookup returns the block covering pc, or nil if none is cached or pc
// is volatile.
func (c *Cache) Lookup(pc uint32) *Block {
	if c.volatile[pc] {
		return nil
	}
	if int(pc) >= len(c.table) {
		return nil
	}
	return c.table[pc]
}

// Insert records b across its full PC range [PCFirst, PCFirst+PMemSize),
// so a Lookup anywhere inside an already-cached block finds it (spec.md
// §4.8's "look up the cache at the current PC before translating; if an
// existing block already covers this PC, it is reused instead").
func (c *Cache) Insert(b *Block) error {
	end := uint64(b.PCFirst) + uint64(b.PMemSize)
	if end > uint64(len(c.table)) {
		return fmt.Errorf("blockcache: block [0x%06x, 0x%06x) exceeds table size %d", b.PCFirst, end, len(c.table))
	}
	for pc := b.PCFirst; uint64(pc) < end; pc++ {
		c.table[pc] = b
	}
	return nil
}

// Invalidate clears every slot belonging to the block covering pc, the
// counterpart of a guest P-memory write (spec.md §4.8: "a write to
// guest program memory invalidates every cached block whose range
// covers the written address"). A no-op if pc isn't currently cached.
func (c *Cache) Invalidate(pc uint32) {
	if int(pc) >= len(c.table) {
		return
	}
	b := c.table[pc]
	if b == nil {
		return
	}
	end := uint64(b.PCFirst) + uint64(b.PMemSize)
	for p := b.PCFirst; uint64(p) < end; p++ {
		c.table[p] = nil
	}
}

// MarkVolatile/UnmarkVolatile/IsVolatile track PCs the embedder has
// flagged as unsafe to cache (e.g. a memory-mapped region that can
// change underneath the DSP, per spec.md §4.8's volatile-PC carve-out).
func (c *Cache) MarkVolatile(pc uint32)   { c.volatile[pc] = true }
func (c *Cache) UnmarkVolatile(pc uint32) { delete(c.volatile, pc) }
func (c *Cache) IsVolatile(pc uint32) bool { return c.volatile[pc] }
