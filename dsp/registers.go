// Package dsp describes the architectural state of a DSP56300 core: the
// register file the JIT reads and writes, and the memory/peripheral
// interfaces it consults. Nothing in this package emits code; it is the
// passive data model the rest of the module operates on.
package dsp

// TWord is a 24-bit DSP data/address word, stored widened to 32 bits.
type TWord = uint32

// Reg24, Reg48 and Reg56 are the DSP's narrow register widths, each
// padded to the next convenient host width so the memory-access emitter
// can use native load/store sizes (see memacc).
type Reg24 struct{ Var uint32 } // 24 significant bits
type Reg48 struct{ Var uint64 } // 48 significant bits
type Reg56 struct{ Var uint64 } // 56 significant bits, sign-extended to 64 in host regs

// AGU is one of the eight address-generation-unit triples (R_i, N_i, M_i).
// M defaults to 0xFFFFFF (linear addressing, no modulo wrap).
type AGU struct {
	R Reg24
	N Reg24
	M Reg24
}

const AGUCount = 8

// DefaultM is the power-up value of an AGU's M register: linear mode.
const DefaultM TWord = 0xFFFFFF

// CCR bit positions within the low byte of SR, per spec.md §3/§4.5.
const (
	CCR_C = 1 << 0
	CCR_V = 1 << 1
	CCR_Z = 1 << 2
	CCR_N = 1 << 3
	CCR_U = 1 << 4
	CCR_E = 1 << 5
	CCR_L = 1 << 6
	CCR_S = 1 << 7
)

// Mode Register bit positions within the high bytes of SR (the part
// that isn't CCR): S0/S1 select the scaling mode RND's rounding addend
// depends on, SM suppresses convergent rounding while scaling is
// active. Motorola's SR layout per the DSP563xx family reference.
const (
	SR_S0 = 1 << 10
	SR_S1 = 1 << 11
	SR_SM = 1 << 20
	SR_LF = 1 << 15
)

// Registers is the DSP's architectural register file, laid out with
// stable field addresses so the memory-access emitter can bake offsets
// from &Registers{} into generated code.
type Registers struct {
	A Reg56
	B Reg56

	X Reg48
	Y Reg48

	AGUs [AGUCount]AGU

	SR  TWord // low byte CCR, high byte mode/interrupt bits
	OMR TWord

	LA TWord
	LC TWord

	SP TWord
	SC TWord
	SZ TWord

	EP  TWord
	VBA TWord

	// SS is the sixteen-entry hardware stack; each entry is a 48-bit
	// (SSH|SSL) pair used for (PC,SR) or (LA,LC) frames.
	SS [16]struct {
		SSH TWord
		SSL TWord
	}
}

// MemArea selects one of the DSP's three 24-bit memory spaces.
type MemArea int

const (
	AreaX MemArea = iota
	AreaY
	AreaP
)

// Memory is the external memory model the JIT core consumes. DSP memory
// arrays, OMF loading into them, and peripheral dispatch are out of
// scope for this module (spec.md §1); this interface is the seam the
// core calls through for guest loads/stores.
type Memory interface {
	Get(area MemArea, addr TWord) TWord
	Set(area MemArea, addr TWord, word TWord)
	// BridgedAddress returns a host pointer to a contiguous run of cells
	// for bulk/RIP-relative access, or ok=false if the area/range isn't
	// bridgeable (e.g. it's peripheral-backed).
	BridgedAddress(area MemArea, addr TWord) (ptr uintptr, ok bool)
}

// Peripheral is consulted by Memory implementations for I/O-mapped
// ranges; the JIT core never calls it directly.
type Peripheral interface {
	Read(addr TWord) TWord
	Write(addr TWord, word TWord)
}
