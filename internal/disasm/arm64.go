package disasm

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// arm64Backend decodes AArch64 instructions, all 4 bytes wide.
type arm64Backend struct{}

func newARM64() backend { return arm64Backend{} }

func (arm64Backend) unit() int { return 4 }

func (arm64Backend) decode(code []byte, pc uint64, detail bool) (Inst, error) {
	in, err := arm64asm.Decode(code)
	if err != nil {
		return Inst{}, err
	}

	op, _ := splitText(arm64asm.GNUSyntax(in))
	inst := Inst{
		VA:       pc,
		Size:     4,
		Raw:      append([]byte(nil), code[:4]...),
		Op:       op,
		Operands: arm64Operands(in, pc),
	}
	if detail {
		inst.Detail = arm64Detail(in, pc)
	}
	return inst, nil
}

func arm64Target(pc uint64, rel arm64asm.PCRel) uint64 {
	return uint64(int64(pc) + int64(rel))
}

// arm64Operands renders operands with branch targets as absolute
// addresses. Condition codes are folded into the mnemonic by GNUSyntax.
func arm64Operands(in arm64asm.Inst, pc uint64) string {
	var args []string
	for _, arg := range in.Args {
		if arg == nil {
			break
		}
		switch a := arg.(type) {
		case arm64asm.Cond:
			continue
		case arm64asm.PCRel:
			args = append(args, formatAddr(arm64Target(pc, a)))
		default:
			if s := strings.ToLower(a.String()); s != "" {
				args = append(args, s)
			}
		}
	}
	return strings.Join(args, ", ")
}

func arm64Detail(in arm64asm.Inst, pc uint64) *Detail {
	d := &Detail{}
	for _, arg := range in.Args {
		if arg == nil {
			break
		}
		// Condition codes are an attribute of the instruction, not an operand.
		if _, ok := arg.(arm64asm.Cond); ok {
			continue
		}
		d.Operands = append(d.Operands, arm64Operand(arg, pc))
	}
	d.Groups = arm64Groups(in)
	return d
}

func arm64Operand(arg arm64asm.Arg, pc uint64) Operand {
	op := Operand{Text: strings.ToLower(arg.String())}
	switch a := arg.(type) {
	case arm64asm.Reg, arm64asm.RegSP, arm64asm.RegExtshiftAmount,
		arm64asm.RegisterWithArrangement, arm64asm.RegisterWithArrangementAndIndex:
		op.Kind = OperandReg
	case arm64asm.Imm:
		op.Kind = OperandImm
		op.Value = uint64(a.Imm)
	case arm64asm.Imm64:
		op.Kind = OperandImm
		op.Value = a.Imm
	case arm64asm.ImmShift, arm64asm.Imm_hint, arm64asm.Imm_clrex, arm64asm.Imm_dcps:
		op.Kind = OperandImm
	case arm64asm.PCRel:
		op.Kind = OperandImm
		op.Value = arm64Target(pc, a)
		op.Text = formatAddr(op.Value)
	case arm64asm.MemImmediate, arm64asm.MemExtend:
		op.Kind = OperandMem
	default:
		op.Kind = OperandOther
	}
	return op
}

func arm64Groups(in arm64asm.Inst) []Group {
	switch in.Op {
	case arm64asm.B, arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return []Group{GroupBranchRelative, GroupJump}
	case arm64asm.BR:
		return []Group{GroupJump}
	case arm64asm.BL:
		return []Group{GroupBranchRelative, GroupCall}
	case arm64asm.BLR:
		return []Group{GroupCall}
	case arm64asm.RET, arm64asm.ERET:
		return []Group{GroupRet}
	case arm64asm.SVC, arm64asm.HVC, arm64asm.SMC:
		return []Group{GroupInt}
	}
	return nil
}
