package disasm

import (
	"strings"
	"testing"

	"github.com/dsp56300/jitcore/emit"
)

func TestDumpX64Ret(t *testing.T) {
	out := Dump(emit.ArchX64, []byte{0xC3})
	if !strings.Contains(strings.ToLower(out), "ret") {
		t.Fatalf("Dump(x64, RET) = %q, want a line containing \"ret\"", out)
	}
}

func TestDumpX64UndecodableTrailer(t *testing.T) {
	out := Dump(emit.ArchX64, []byte{0xC3, 0x0F, 0x0B, 0xFF})
	if !strings.Contains(out, "undecodable") {
		t.Fatalf("Dump(x64, trailing junk) = %q, want an \"undecodable\" marker", out)
	}
}

func TestDumpArm64Ret(t *testing.T) {
	// RET X30, little-endian encoding of 0xD65F03C0.
	out := Dump(emit.ArchArm64, []byte{0xC0, 0x03, 0x5F, 0xD6})
	if !strings.Contains(strings.ToLower(out), "ret") {
		t.Fatalf("Dump(arm64, RET) = %q, want a line containing \"ret\"", out)
	}
}

func TestDumpEmptyCode(t *testing.T) {
	if out := Dump(emit.ArchX64, nil); out != "" {
		t.Fatalf("Dump(x64, nil) = %q, want empty", out)
	}
}
