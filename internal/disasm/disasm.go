// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers, and the decoder that
// produces it one instruction at a time from a byte cursor.
package disasm

import (
	"fmt"
	"strings"
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA       uint64  // virtual address of instruction
	Size     int     // number of bytes consumed
	Raw      []byte  // raw encoding, copied out of the section
	Op       string  // mnemonic in lowercase
	Operands string  // formatted operand text
	Detail   *Detail // nil when the decoder runs without detail
}

// Text returns the mnemonic and operands as a single line.
func (i Inst) Text() string {
	if i.Operands == "" {
		return i.Op
	}
	return i.Op + " " + i.Operands
}

// End is the address just past the instruction.
func (i Inst) End() uint64 {
	return i.VA + uint64(i.Size)
}

func (i Inst) String() string {
	return fmt.Sprintf("%#x: %s", i.VA, i.Text())
}

// Detail carries the branch-relevant metadata of an instruction.
type Detail struct {
	Operands []Operand
	Groups   []Group // control-transfer groups in recorded order
}

// LastGroup returns the most recently recorded group, or GroupInvalid.
func (d *Detail) LastGroup() Group {
	if d == nil || len(d.Groups) == 0 {
		return GroupInvalid
	}
	return d.Groups[len(d.Groups)-1]
}

// HasGroup reports whether g was recorded for the instruction.
func (d *Detail) HasGroup(g Group) bool {
	if d == nil {
		return false
	}
	for _, x := range d.Groups {
		if x == g {
			return true
		}
	}
	return false
}

// OperandKind classifies an instruction operand.
type OperandKind uint8

const (
	OperandInvalid OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
	OperandRegList
	OperandOther
)

func (k OperandKind) String() string {
	switch k {
	case OperandReg:
		return "reg"
	case OperandImm:
		return "imm"
	case OperandMem:
		return "mem"
	case OperandRegList:
		return "reglist"
	case OperandOther:
		return "other"
	default:
		return "invalid"
	}
}

// Operand is one decoded operand. Value holds the immediate for
// OperandImm; PC-relative operands are resolved to the absolute target.
type Operand struct {
	Kind  OperandKind
	Value uint64
	Text  string
}

// Group is a control-transfer group an instruction belongs to.
type Group uint8

const (
	GroupInvalid Group = iota
	GroupJump
	GroupCall
	GroupRet
	GroupInt
	GroupBranchRelative
)

func (g Group) String() string {
	switch g {
	case GroupJump:
		return "jump"
	case GroupCall:
		return "call"
	case GroupRet:
		return "ret"
	case GroupInt:
		return "int"
	case GroupBranchRelative:
		return "branch_relative"
	default:
		return "invalid"
	}
}

// Cursor is the decode position: the remaining bytes and the address
// of the first of them.
type Cursor struct {
	Code    []byte
	Address uint64
}

// NewCursor returns a cursor over code starting at addr.
func NewCursor(code []byte, addr uint64) *Cursor {
	return &Cursor{Code: code, Address: addr}
}

// Remaining returns the number of undecoded bytes.
func (c *Cursor) Remaining() int {
	return len(c.Code)
}

func (c *Cursor) advance(n int) {
	c.Code = c.Code[n:]
	c.Address += uint64(n)
}

// splitText splits a formatted instruction into lowercase mnemonic and operands.
func splitText(text string) (op, operands string) {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	op = strings.ToLower(parts[0])
	if len(parts) > 1 {
		operands = strings.TrimSpace(parts[1])
	}
	return op, operands
}
