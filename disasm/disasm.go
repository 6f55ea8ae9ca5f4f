// Package disasm renders emitted host machine code back into text, for
// translator diagnostics (slog.Debug on block compile) and for tests
// that want to assert an op encoder produced the expected mnemonic
// sequence without hardcoding raw bytes.
//
// Grounded on the pack's JIT reference use of the standard Go-ecosystem
// decoders (golang.org/x/arch/x86/x86asm, golang.org/x/arch/arm64/arm64asm)
// for exactly this purpose; no pack repo hand-rolls a disassembler when
// these exist, and the teacher itself never needs one since it only
// ever emits code for the OS loader to run, never disassembles its own
// output.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/dsp56300/jitcore/emit"
)

// Dump decodes code as a sequence of instructions for arch and renders
// one "addr: mnemonic" line per instruction, stopping (with a trailing
// "; ..." marker) at the first byte sequence it cannot decode rather
// than erroring out — a best-effort debug aid, not a verifier.
func Dump(arch emit.Arch, code []byte) string {
	switch arch {
	case emit.ArchArm64:
		return dumpArm64(code)
	default:
		return dumpX64(code)
	}
}

func dumpX64(code []byte) string {
	var b strings.Builder
	for pos := 0; pos < len(code); {
		inst, err := x86asm.Decode(code[pos:], 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(&b, "%04x: ; undecodable: %v\n", pos, err)
			break
		}
		fmt.Fprintf(&b, "%04x: %s\n", pos, x86asm.GNUSyntax(inst, uint64(pos), nil))
		pos += inst.Len
	}
	return b.String()
}

func dumpArm64(code []byte) string {
	var b strings.Builder
	for pos := 0; pos < len(code); {
		inst, err := arm64asm.Decode(code[pos:])
		if err != nil {
			fmt.Fprintf(&b, "%04x: ; undecodable: %v\n", pos, err)
			break
		}
		fmt.Fprintf(&b, "%04x: %s\n", pos, inst.String())
		pos += 4
	}
	return b.String()
}
