package analysis

import (
	"errors"
	"sync"

	"codescan/internal/disasm"
	"codescan/internal/elfx"
)

// Scripted instruction set used by the engine tests: every unit is 4
// bytes and its first byte selects the instruction.
const (
	opPlain    byte = 0x00
	opDirect   byte = 0x01 // jump with one immediate operand
	opIndirect byte = 0x02 // jump with one register operand
	opCall     byte = 0x03 // call with one immediate operand
	opRet      byte = 0x04
	opCondReg  byte = 0x05 // jump with register and immediate operands
	opBad      byte = 0xff // undecodable
)

func prog(ops ...byte) []byte {
	b := make([]byte, 0, 4*len(ops))
	for _, op := range ops {
		b = append(b, op, 0, 0, 0)
	}
	return b
}

type fakeDecoder struct {
	cfg    disasm.Config
	closed bool
	owner  *fakeOpener
}

func (f *fakeDecoder) Next(c *disasm.Cursor) (disasm.Inst, bool) {
	if f.closed || len(c.Code) < 4 {
		return disasm.Inst{}, false
	}
	inst := disasm.Inst{VA: c.Address, Size: 4, Raw: append([]byte(nil), c.Code[:4]...)}
	d := &disasm.Detail{}
	imm := disasm.Operand{Kind: disasm.OperandImm, Value: 0x1000, Text: "0x1000"}
	reg := disasm.Operand{Kind: disasm.OperandReg, Text: "r3"}

	switch c.Code[0] {
	case opPlain:
		inst.Op = "mov"
		d.Operands = []disasm.Operand{reg, reg}
	case opDirect:
		inst.Op = "b"
		d.Operands = []disasm.Operand{imm}
		d.Groups = []disasm.Group{disasm.GroupBranchRelative, disasm.GroupJump}
	case opIndirect:
		inst.Op = "bx"
		d.Operands = []disasm.Operand{reg}
		d.Groups = []disasm.Group{disasm.GroupJump}
	case opCall:
		inst.Op = "bl"
		d.Operands = []disasm.Operand{imm}
		d.Groups = []disasm.Group{disasm.GroupBranchRelative, disasm.GroupCall}
	case opRet:
		inst.Op = "ret"
		d.Groups = []disasm.Group{disasm.GroupRet}
	case opCondReg:
		inst.Op = "cbz"
		d.Operands = []disasm.Operand{reg, imm}
		d.Groups = []disasm.Group{disasm.GroupBranchRelative, disasm.GroupJump}
	default:
		if !f.cfg.SkipData {
			return disasm.Inst{}, false
		}
		inst.Op = ".word"
	}
	if f.cfg.Detail {
		inst.Detail = d
	}
	c.Code = c.Code[4:]
	c.Address += 4
	return inst, true
}

func (f *fakeDecoder) Close() error {
	f.closed = true
	f.owner.mu.Lock()
	f.owner.closes++
	f.owner.mu.Unlock()
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	opens   int
	closes  int
	configs []disasm.Config
	fail    error
}

func (o *fakeOpener) open(cfg disasm.Config) (Decoder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return nil, o.fail
	}
	o.opens++
	o.configs = append(o.configs, cfg)
	return &fakeDecoder{cfg: cfg, owner: o}, nil
}

func newFakeTraverser() (*Traverser, *fakeOpener) {
	o := &fakeOpener{}
	return NewTraverser(o.open, DefaultOptions(disasm.ArchARM)), o
}

var errInitFailed = &disasm.InitError{Arch: "fake", Err: errors.New("no backend")}

func code(name string, addr uint64, ops ...byte) *elfx.Section {
	return elfx.NewCodeSection(name, addr, prog(ops...))
}

func sectionWithExtra(sec *elfx.Section, n int) *elfx.Section {
	data := append(append([]byte(nil), sec.Data()...), make([]byte, n)...)
	return elfx.NewCodeSection(sec.Name, sec.Addr, data)
}
