package analysis

import "codescan/internal/disasm"

// IsBranch reports whether inst ends a basic block: the last group the
// decoder recorded for it is the jump group. Calls, returns and traps
// do not end blocks. Instructions without detail never do.
func IsBranch(inst disasm.Inst) bool {
	return inst.Detail.LastGroup() == disasm.GroupJump
}

// IsDirectBranch reports whether inst carries a single immediate operand.
// This is a structural heuristic for a statically known target, not an
// analysis of it: "b 0x1000" is direct, "bx r3" and "cbz x0, 0x1000" are not.
func IsDirectBranch(inst disasm.Inst) bool {
	d := inst.Detail
	if d == nil || len(d.Operands) != 1 {
		return false
	}
	return d.Operands[0].Kind == disasm.OperandImm
}

// Classify returns whether inst ends a block and, if it does, whether
// its target is direct.
func Classify(inst disasm.Inst) (blockEnd, direct bool) {
	if !IsBranch(inst) {
		return false, false
	}
	return true, IsDirectBranch(inst)
}
