package regpool

import "github.com/dsp56300/jitcore/emit"

// StackHelper tracks which callee-save host registers a block actually
// clobbered and emits matched push/pop (x64) or stp/ldp-style pair
// (arm64, via repeated Push/Pop — see emit.Emitter.Push/Pop) sequences
// around the block body at finalize.
//
// Grounded on _examples/tinyrange-rtg/std/compiler/backend_x64.go's
// prologue/epilogue (`g.pushR(REG_RBP)` ... `g.popR(REG_RBP)`) and
// backend_aarch64.go's compileFuncArm64, which does the equivalent with
// a single stp/ldp pair for the frame pointer and link register. Here
// the set of registers saved is dynamic (whichever callee-save
// registers the translation actually acquired), not fixed to one pair,
// because the DSP register pool may pin a variable number of them for
// the duration of a block.
type StackHelper struct {
	used []int // host registers marked used, in first-use order
	seen map[int]bool
}

func NewStackHelper() *StackHelper {
	return &StackHelper{seen: make(map[int]bool)}
}

// MarkUsed records that host register r (known callee-save) was
// acquired during this block and must be preserved.
func (s *StackHelper) MarkUsed(r int) {
	if s.seen[r] {
		return
	}
	s.seen[r] = true
	s.used = append(s.used, r)
}

// EmitPrologue pushes every marked callee-save register, in
// acquisition order, onto the host stack.
func (s *StackHelper) EmitPrologue(e emit.Emitter) {
	for _, r := range s.used {
		e.Push(emit.Reg(r))
	}
}

// EmitEpilogue pops them back in reverse order, matching the prologue.
func (s *StackHelper) EmitEpilogue(e emit.Emitter) {
	for i := len(s.used) - 1; i >= 0; i-- {
		e.Pop(emit.Reg(s.used[i]))
	}
}

// Used reports which host registers the epilogue will restore; used by
// tests to assert exactly the clobbered set is saved, not more.
func (s *StackHelper) Used() []int {
	out := make([]int, len(s.used))
	copy(out, s.used)
	return out
}
