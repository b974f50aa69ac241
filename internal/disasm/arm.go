package disasm

import (
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// armBackend decodes 32-bit ARM (A32) instructions.
type armBackend struct{}

func newARM() backend { return armBackend{} }

func (armBackend) unit() int { return 4 }

func (armBackend) decode(code []byte, pc uint64, detail bool) (Inst, error) {
	in, err := armasm.Decode(code, armasm.ModeARM)
	if err != nil {
		return Inst{}, err
	}
	size := in.Len
	if size == 0 {
		size = 4
	}

	op, _ := splitText(armasm.GNUSyntax(in))
	inst := Inst{
		VA:       pc,
		Size:     size,
		Raw:      append([]byte(nil), code[:size]...),
		Op:       op,
		Operands: armOperands(in, pc),
	}
	if detail {
		inst.Detail = armDetail(in, pc)
	}
	return inst, nil
}

// armTarget resolves a PC-relative operand. Reads of PC in A32 state
// observe the instruction address plus 8.
func armTarget(pc uint64, rel armasm.PCRel) uint64 {
	return uint64(uint32(pc) + 8 + uint32(rel))
}

func armOperands(in armasm.Inst, pc uint64) string {
	var args []string
	for _, arg := range in.Args {
		if arg == nil {
			break
		}
		switch a := arg.(type) {
		case armasm.PCRel:
			args = append(args, formatAddr(armTarget(pc, a)))
		default:
			args = append(args, strings.ToLower(a.String()))
		}
	}
	return strings.Join(args, ", ")
}

func armDetail(in armasm.Inst, pc uint64) *Detail {
	d := &Detail{}
	for _, arg := range in.Args {
		if arg == nil {
			break
		}
		d.Operands = append(d.Operands, armOperand(arg, pc))
	}
	d.Groups = armGroups(in)
	return d
}

func armOperand(arg armasm.Arg, pc uint64) Operand {
	op := Operand{Text: strings.ToLower(arg.String())}
	switch a := arg.(type) {
	case armasm.Reg, armasm.RegX, armasm.RegShift, armasm.RegShiftReg:
		op.Kind = OperandReg
	case armasm.Imm:
		op.Kind = OperandImm
		op.Value = uint64(a)
	case armasm.ImmAlt:
		op.Kind = OperandImm
		op.Value = uint64(a.Imm())
	case armasm.Label:
		op.Kind = OperandImm
		op.Value = uint64(a)
	case armasm.PCRel:
		op.Kind = OperandImm
		op.Value = armTarget(pc, a)
		op.Text = formatAddr(op.Value)
	case armasm.Mem:
		op.Kind = OperandMem
	case armasm.RegList:
		op.Kind = OperandRegList
	default:
		op.Kind = OperandOther
	}
	return op
}

// armGroups assigns control-transfer groups. Conditional variants of an
// opcode share the family value op&^15.
func armGroups(in armasm.Inst) []Group {
	family := in.Op &^ 15
	relative := hasARMPCRel(in)

	switch family {
	case armasm.B_EQ:
		return []Group{GroupBranchRelative, GroupJump}
	case armasm.BL_EQ, armasm.BLX_EQ:
		if relative {
			return []Group{GroupBranchRelative, GroupCall}
		}
		return []Group{GroupCall}
	case armasm.BX_EQ, armasm.BXJ_EQ:
		if r, ok := in.Args[0].(armasm.Reg); ok && r == armasm.LR {
			return []Group{GroupRet}
		}
		return []Group{GroupJump}
	case armasm.SVC_EQ:
		return []Group{GroupInt}
	case armasm.POP_EQ, armasm.LDM_EQ, armasm.LDMDA_EQ, armasm.LDMDB_EQ, armasm.LDMIB_EQ:
		if listHasPC(in) {
			return []Group{GroupRet}
		}
	case armasm.MOV_EQ, armasm.MOV_S_EQ:
		if writesPC(in) {
			if r, ok := in.Args[1].(armasm.Reg); ok && r == armasm.LR {
				return []Group{GroupRet}
			}
			return []Group{GroupJump}
		}
	case armasm.LDR_EQ, armasm.ADD_EQ, armasm.SUB_EQ:
		if writesPC(in) {
			return []Group{GroupJump}
		}
	}
	return nil
}

func hasARMPCRel(in armasm.Inst) bool {
	for _, arg := range in.Args {
		if _, ok := arg.(armasm.PCRel); ok {
			return true
		}
	}
	return false
}

func writesPC(in armasm.Inst) bool {
	r, ok := in.Args[0].(armasm.Reg)
	return ok && r == armasm.PC
}

func listHasPC(in armasm.Inst) bool {
	for _, arg := range in.Args {
		if l, ok := arg.(armasm.RegList); ok && l&(1<<uint(armasm.PC)) != 0 {
			return true
		}
	}
	return false
}
