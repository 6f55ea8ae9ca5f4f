package jit

import (
	"testing"

	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

type fakeMemory struct {
	p map[dsp.TWord]dsp.TWord
}

func newFakeMemory() *fakeMemory { return &fakeMemory{p: make(map[dsp.TWord]dsp.TWord)} }

func (m *fakeMemory) Get(area dsp.MemArea, addr dsp.TWord) dsp.TWord { return m.p[addr] }
func (m *fakeMemory) Set(area dsp.MemArea, addr dsp.TWord, word dsp.TWord) { m.p[addr] = word }
func (m *fakeMemory) BridgedAddress(area dsp.MemArea, addr dsp.TWord) (uintptr, bool) {
	return 0, false
}

func TestNewAndClose(t *testing.T) {
	regs := &dsp.Registers{}
	mem := newFakeMemory()
	rt := &Runtime{}
	j, err := New(emit.ArchX64, regs, mem, 0x1000, rt, Config{CodeArenaSize: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(j.arena) != 4096 {
		t.Fatalf("arena size = %d, want 4096", len(j.arena))
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestInstallBlockBumpAllocates(t *testing.T) {
	regs := &dsp.Registers{}
	mem := newFakeMemory()
	rt := &Runtime{}
	j, err := New(emit.ArchX64, regs, mem, 0x1000, rt, Config{CodeArenaSize: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	a1, err := j.installBlock([]byte{0xC3, 0xC3, 0xC3, 0xC3}) // four RET bytes
	if err != nil {
		t.Fatalf("installBlock #1: %v", err)
	}
	a2, err := j.installBlock([]byte{0xC3, 0xC3})
	if err != nil {
		t.Fatalf("installBlock #2: %v", err)
	}
	if a2 != a1+4 {
		t.Fatalf("second block address = 0x%x, want 0x%x (immediately after the first)", a2, a1+4)
	}
	if j.used != 6 {
		t.Fatalf("used = %d, want 6", j.used)
	}
}

func TestInstallBlockArenaExhausted(t *testing.T) {
	regs := &dsp.Registers{}
	mem := newFakeMemory()
	rt := &Runtime{}
	j, err := New(emit.ArchX64, regs, mem, 0x1000, rt, Config{CodeArenaSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	if _, err := j.installBlock(make([]byte, 4)); err != nil {
		t.Fatalf("installBlock within budget: %v", err)
	}
	if _, err := j.installBlock(make([]byte, 8)); err != ErrArenaExhausted {
		t.Fatalf("installBlock past budget: err = %v, want ErrArenaExhausted", err)
	}
}

func TestMarkVolatileForwardsToCache(t *testing.T) {
	regs := &dsp.Registers{}
	mem := newFakeMemory()
	rt := &Runtime{}
	j, err := New(emit.ArchX64, regs, mem, 0x1000, rt, Config{CodeArenaSize: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	j.MarkVolatile(0x42)
	if !j.cache.IsVolatile(0x42) {
		t.Fatal("MarkVolatile(0x42) did not mark the underlying cache entry volatile")
	}
	j.UnmarkVolatile(0x42)
	if j.cache.IsVolatile(0x42) {
		t.Fatal("UnmarkVolatile(0x42) left the underlying cache entry volatile")
	}
}
