package ccr

import (
	"testing"

	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

func TestMarkDirtySetsAllRequestedBits(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.MarkDirty(dsp.CCR_E|dsp.CCR_N|dsp.CCR_U|dsp.CCR_Z, Source{ResultReg: emit.Reg(0), Width: Width56})

	want := dsp.TWord(dsp.CCR_E | dsp.CCR_N | dsp.CCR_U | dsp.CCR_Z)
	if d.Dirty() != want {
		t.Fatalf("Dirty() = 0x%02x, want 0x%02x", d.Dirty(), want)
	}
}

func TestMarkCarryFromHostFlagsIsSingleBit(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.MarkCarryFromHostFlags(emit.Reg(0))
	if d.Dirty() != dsp.CCR_C {
		t.Fatalf("Dirty() = 0x%02x, want CCR_C", d.Dirty())
	}
}

func TestMarkOverflowFromHostFlagsIsSingleBit(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.MarkOverflowFromHostFlags(emit.Reg(0))
	if d.Dirty() != dsp.CCR_V {
		t.Fatalf("Dirty() = 0x%02x, want CCR_V", d.Dirty())
	}
	if !d.sources[dsp.CCR_V].Precomputed {
		t.Fatalf("expected CCR_V's source to be marked Precomputed")
	}
}

func TestClearRemovesBitFromDirtyMask(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.MarkDirty(dsp.CCR_V|dsp.CCR_Z, Source{ResultReg: emit.Reg(0)})
	d.Clear(dsp.CCR_V, emit.Reg(1))
	if d.Dirty() != dsp.CCR_Z {
		t.Fatalf("Dirty() = 0x%02x, want only CCR_Z left", d.Dirty())
	}
}

func TestDiscardAllDropsEverything(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.MarkDirty(dsp.CCR_C|dsp.CCR_V|dsp.CCR_Z|dsp.CCR_N, Source{ResultReg: emit.Reg(0)})
	d.DiscardAll()
	if d.Dirty() != 0 {
		t.Fatalf("Dirty() = 0x%02x after DiscardAll, want 0", d.Dirty())
	}
}

func TestCommitClearsDirtyAndEmitsNoErrorForKnownBits(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.MarkDirty(dsp.CCR_C|dsp.CCR_V|dsp.CCR_Z|dsp.CCR_N|dsp.CCR_U|dsp.CCR_E|dsp.CCR_L|dsp.CCR_S,
		Source{ResultReg: emit.Reg(0), Width: Width56})

	if err := d.Commit(emit.Reg(1), emit.Reg(2)); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if d.Dirty() != 0 {
		t.Fatalf("Dirty() after Commit = 0x%02x, want 0", d.Dirty())
	}
}

func TestCommitErrorsOnDirtyBitWithNoSource(t *testing.T) {
	d := New(emit.New(emit.ArchX64))
	d.dirty = dsp.CCR_C // dirty without ever calling Mark*
	if err := d.Commit(emit.Reg(1), emit.Reg(2)); err == nil {
		t.Fatalf("expected error committing a bit with no recorded source")
	}
}
