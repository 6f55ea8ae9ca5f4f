package regpool

import (
	"testing"
	"unsafe"

	"github.com/dsp56300/jitcore/dsp"
	"github.com/dsp56300/jitcore/emit"
)

func newTestDSPPool(t *testing.T) (*DSPPool, *dsp.Registers) {
	t.Helper()
	regs := &dsp.Registers{}
	base := uintptr(unsafe.Pointer(regs))
	e := emit.New(emit.ArchX64)
	gp := []int{0, 1, 2, 3, 4, 5, 6, 7}
	calleeSave := make([]bool, len(gp))
	pool := NewDSPPool(e, nil, base)
	phys := NewPhysPool(gp, calleeSave, pool, nil)
	pool.phys = phys
	return pool, regs
}

func TestDSPPoolWriteMarksWritten(t *testing.T) {
	pool, _ := newTestDSPPool(t)

	if err := pool.Write(RegA, emit.Reg(3)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !pool.slots[RegA].loaded || !pool.slots[RegA].written {
		t.Fatalf("expected RegA resident and written, got %+v", pool.slots[RegA])
	}
}

func TestDSPPoolWriteToMTracksChangedIndex(t *testing.T) {
	pool, _ := newTestDSPPool(t)

	if err := pool.Write(RegM(3), emit.Reg(0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	changed := pool.ChangedM()
	if len(changed) != 1 || changed[0] != 3 {
		t.Fatalf("expected ChangedM()==[3], got %v", changed)
	}
	// A plain read of a different M register must not mark it changed.
	if _, err := pool.Get(RegM(1), true, false); err != nil {
		t.Fatalf("get: %v", err)
	}
	changed = pool.ChangedM()
	if len(changed) != 1 || changed[0] != 3 {
		t.Fatalf("expected ChangedM() still ==[3] after a read-only Get, got %v", changed)
	}
}

func TestDSPPoolLockPreventsSpill(t *testing.T) {
	pool, _ := newTestDSPPool(t)

	if _, err := pool.Get(RegAwrite, false, true); err != nil {
		t.Fatalf("get shadow: %v", err)
	}
	pool.Lock(RegAwrite)
	if err := pool.Spill(Occupant(RegAwrite)); err == nil {
		t.Fatalf("expected Spill to refuse a locked register")
	}
	pool.Unlock(RegAwrite)
}

func TestDSPPoolCommitShadowReleasesSlot(t *testing.T) {
	pool, _ := newTestDSPPool(t)

	shadowReg, err := pool.Get(RegAwrite, false, true)
	if err != nil {
		t.Fatalf("get shadow: %v", err)
	}
	pool.Lock(RegAwrite)

	// Step 3 of the parallel-move protocol: the move half reads the
	// pre-op value of A while the shadow is still locked and distinct.
	if _, err := pool.Get(RegA, true, false); err != nil {
		t.Fatalf("get primary: %v", err)
	}

	pool.Unlock(RegAwrite)
	if err := pool.CommitShadow(RegAwrite); err != nil {
		t.Fatalf("commit shadow: %v", err)
	}
	if pool.slots[RegAwrite].loaded {
		t.Fatalf("expected shadow slot released after commit")
	}
	if !pool.slots[RegA].written {
		t.Fatalf("expected commit to mark RegA written")
	}
	_ = shadowReg
}

func TestDSPPoolCommitShadowRejectsUnwrittenSlot(t *testing.T) {
	pool, _ := newTestDSPPool(t)
	if err := pool.CommitShadow(RegBwrite); err == nil {
		t.Fatalf("expected error committing a shadow slot that was never written")
	}
}

func TestDSPPoolWritebackAllClearsResidency(t *testing.T) {
	pool, _ := newTestDSPPool(t)

	if err := pool.Write(RegX, emit.Reg(0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := pool.Write(RegSR, emit.Reg(1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := pool.WritebackAll(); err != nil {
		t.Fatalf("writeback: %v", err)
	}
	if pool.slots[RegX].loaded || pool.slots[RegSR].loaded {
		t.Fatalf("expected all slots released after WritebackAll")
	}
}

func TestFieldOffsetsStayWithinRegistersBounds(t *testing.T) {
	size := unsafe.Sizeof(dsp.Registers{})
	for i := 0; i < numRegs; i++ {
		id := RegID(i)
		if id == RegAwrite || id == RegBwrite {
			continue
		}
		off, sz := fieldOffset(id)
		if off+uintptr(sz) > size {
			t.Fatalf("RegID(%d): offset %d + size %d exceeds struct size %d", id, off, sz, size)
		}
	}
}
