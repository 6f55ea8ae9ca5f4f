package translate

import "github.com/dsp56300/jitcore/emit"

// Host register assignment. Three disjoint sets per architecture:
//   - the ABI-reserved registers memacc.GuestCallRegs/GuestWriteWordReg
//     fix for guest-access calls, never handed to the DSP pool so a
//     call never has to evict live DSP state first;
//   - the DSP register pool's candidate set (regpool.PhysPool), sized
//     generously enough that a typical block keeps its hottest
//     registers resident, with LRU spill covering the rest;
//   - a small fixed scratch set the translator round-robins through
//     for the transient temporaries op encoders need (captureC, vsave,
//     and so on) — never pool-managed, so acquiring one never risks
//     evicting a live DSP register out from under an encoder mid-call.
func gpPoolRegs(arch emit.Arch) []int {
	if arch == emit.ArchArm64 {
		return []int{3, 4, 5, 6, 7, 8, 19, 20, 21, 22, 23, 24}
	}
	return []int{1, 3, 12, 13, 14, 15} // RCX, RBX, R12-R15
}

func gpCalleeSave(arch emit.Arch) []bool {
	if arch == emit.ArchArm64 {
		return []bool{false, false, false, false, false, false, true, true, true, true, true, true}
	}
	return []bool{false, true, true, true, true, true}
}

func scratchRegs(arch emit.Arch) []int {
	if arch == emit.ArchArm64 {
		return []int{9, 10, 11, 12}
	}
	return []int{8, 9, 10, 11} // R8-R11
}
