package memacc

import (
	"testing"

	"github.com/dsp56300/jitcore/emit"
)

func TestCellLoadStoreRoundTripProducesCode(t *testing.T) {
	e := emit.New(emit.ArchX64)
	m := New(e)

	m.StoreCell24(0x1000, emit.Reg(0))
	m.LoadCell24(emit.Reg(1), 0x1000)
	m.StoreCell48(0x2000, emit.Reg(2))
	m.LoadCell56(emit.Reg(3), 0x3000)

	code, err := e.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(code) == 0 {
		t.Fatalf("expected non-empty emitted code")
	}
}

func TestIndexedStackAccessEmitsWithoutError(t *testing.T) {
	for _, arch := range []emit.Arch{emit.ArchX64, emit.ArchArm64} {
		e := emit.New(arch)
		m := New(e)
		m.LoadStackSSH(emit.Reg(0), emit.Reg(1), 0x4000, emit.Reg(2))
		m.StoreStackSSL(emit.Reg(1), 0x4000, emit.Reg(0), emit.Reg(2))

		if _, err := e.Bytes(); err != nil {
			t.Fatalf("arch %v: Bytes: %v", arch, err)
		}
	}
}
