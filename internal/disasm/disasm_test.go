package disasm

import (
	"encoding/binary"
	"errors"
	"testing"
)

func words(ws ...uint32) []byte {
	b := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func openARM(t *testing.T, cfg Config) *Decoder {
	t.Helper()
	d, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open(%+v) error = %v", cfg, err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestARMGroups(t *testing.T) {
	tests := []struct {
		name   string
		word   uint32
		op     string
		last   Group
		nops   int
		target uint64
	}{
		{name: "mov register", word: 0xe1a00001, op: "mov", last: GroupInvalid, nops: 2},
		{name: "unconditional branch", word: 0xea000000, op: "b", last: GroupJump, nops: 1, target: 0x8008},
		{name: "conditional branch", word: 0x0a000000, op: "beq", last: GroupJump, nops: 1, target: 0x8008},
		{name: "branch with link", word: 0xeb000000, op: "bl", last: GroupCall, nops: 1, target: 0x8008},
		{name: "return through lr", word: 0xe12fff1e, op: "bx", last: GroupRet, nops: 1},
		{name: "load into pc", word: 0xe590f000, op: "ldr", last: GroupJump, nops: 2},
		{name: "supervisor call", word: 0xef000000, op: "svc", last: GroupInt, nops: 1},
		{name: "add immediate", word: 0xe2800001, op: "add", last: GroupInvalid, nops: 3},
	}

	d := openARM(t, Config{Arch: ArchARM, Detail: true})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(words(tt.word), 0x8000)
			inst, ok := d.Next(c)
			if !ok {
				t.Fatalf("Next() failed for %#08x", tt.word)
			}
			if inst.Op != tt.op {
				t.Errorf("Op = %q, want %q", inst.Op, tt.op)
			}
			if inst.Size != 4 || inst.VA != 0x8000 {
				t.Errorf("got size %d at %#x, want 4 at 0x8000", inst.Size, inst.VA)
			}
			if got := inst.Detail.LastGroup(); got != tt.last {
				t.Errorf("LastGroup() = %v, want %v", got, tt.last)
			}
			if got := len(inst.Detail.Operands); got != tt.nops {
				t.Errorf("len(Operands) = %d, want %d", got, tt.nops)
			}
			if tt.target != 0 {
				opnd := inst.Detail.Operands[0]
				if opnd.Kind != OperandImm || opnd.Value != tt.target {
					t.Errorf("operand = %+v, want imm %#x", opnd, tt.target)
				}
			}
			if c.Remaining() != 0 || c.Address != 0x8004 {
				t.Errorf("cursor at %#x with %d bytes left", c.Address, c.Remaining())
			}
		})
	}
}

func TestARM64Groups(t *testing.T) {
	tests := []struct {
		name string
		word uint32
		last Group
		nops int
	}{
		{name: "branch", word: 0x14000000, last: GroupJump, nops: 1},
		{name: "conditional branch", word: 0x54000000, last: GroupJump, nops: 1},
		{name: "compare and branch", word: 0xb4000000, last: GroupJump, nops: 2},
		{name: "indirect branch", word: 0xd61f0200, last: GroupJump, nops: 1},
		{name: "branch with link", word: 0x94000000, last: GroupCall, nops: 1},
		{name: "return", word: 0xd65f03c0, last: GroupRet},
		{name: "nop", word: 0xd503201f, last: GroupInvalid},
	}

	d := openARM(t, Config{Arch: ArchARM64, Detail: true})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, ok := d.Next(NewCursor(words(tt.word), 0x400000))
			if !ok {
				t.Fatalf("Next() failed for %#08x", tt.word)
			}
			if got := inst.Detail.LastGroup(); got != tt.last {
				t.Errorf("LastGroup() = %v, want %v", got, tt.last)
			}
			if tt.nops > 0 && len(inst.Detail.Operands) != tt.nops {
				t.Errorf("len(Operands) = %d, want %d (%s)", len(inst.Detail.Operands), tt.nops, inst.Text())
			}
		})
	}
}

func TestARM64BranchTarget(t *testing.T) {
	d := openARM(t, Config{Arch: ArchARM64, Detail: true})
	// b .+8
	inst, ok := d.Next(NewCursor(words(0x14000002), 0x1000))
	if !ok {
		t.Fatal("Next() failed")
	}
	opnd := inst.Detail.Operands[0]
	if opnd.Kind != OperandImm || opnd.Value != 0x1008 {
		t.Errorf("operand = %+v, want imm 0x1008", opnd)
	}
	if inst.Operands != "0x1008" {
		t.Errorf("Operands = %q, want 0x1008", inst.Operands)
	}
}

func TestNextWithoutDetail(t *testing.T) {
	d := openARM(t, Config{Arch: ArchARM})
	inst, ok := d.Next(NewCursor(words(0xea000000), 0))
	if !ok {
		t.Fatal("Next() failed")
	}
	if inst.Detail != nil {
		t.Errorf("Detail = %+v, want nil", inst.Detail)
	}
}

func TestNextExhaustion(t *testing.T) {
	d := openARM(t, Config{Arch: ArchARM, SkipData: true})

	c := NewCursor(words(0xe1a00001, 0xe1a00001), 0x100)
	n := 0
	for {
		if _, ok := d.Next(c); !ok {
			break
		}
		n++
	}
	if n != 2 {
		t.Errorf("decoded %d instructions, want 2", n)
	}

	short := NewCursor([]byte{0x01, 0x00}, 0x200)
	if _, ok := d.Next(short); ok {
		t.Error("Next() on 2 bytes succeeded, want exhaustion")
	}
	if short.Remaining() != 2 || short.Address != 0x200 {
		t.Errorf("cursor moved on failure: %#x/%d", short.Address, short.Remaining())
	}

	if _, ok := d.Next(NewCursor(nil, 0)); ok {
		t.Error("Next() on empty cursor succeeded")
	}
}

// scripted fails on the words listed in bad.
type scripted struct {
	bad map[uint32]bool
}

func (scripted) unit() int { return 4 }

func (s scripted) decode(code []byte, pc uint64, detail bool) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, errors.New("short")
	}
	w := binary.LittleEndian.Uint32(code)
	if s.bad[w] {
		return Inst{}, errors.New("undefined")
	}
	inst := Inst{VA: pc, Size: 4, Op: "nop"}
	if detail {
		inst.Detail = &Detail{}
	}
	return inst, nil
}

func TestSkipData(t *testing.T) {
	be := scripted{bad: map[uint32]bool{0xdeadbeef: true}}
	code := words(1, 0xdeadbeef, 2)

	t.Run("enabled", func(t *testing.T) {
		d := newDecoder(Config{Arch: ArchARM, Detail: true, SkipData: true}, be)
		c := NewCursor(code, 0x10)
		var got []Inst
		for {
			inst, ok := d.Next(c)
			if !ok {
				break
			}
			got = append(got, inst)
		}
		if len(got) != 3 {
			t.Fatalf("decoded %d, want 3", len(got))
		}
		data := got[1]
		if data.Op != ".word" || data.Operands != "0xdeadbeef" || data.VA != 0x14 || data.Size != 4 {
			t.Errorf("data inst = %+v", data)
		}
		if data.Detail == nil || data.Detail.LastGroup() != GroupInvalid {
			t.Errorf("data inst detail = %+v, want empty", data.Detail)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		d := newDecoder(Config{Arch: ArchARM, SkipData: false}, be)
		c := NewCursor(code, 0x10)
		n := 0
		for {
			if _, ok := d.Next(c); !ok {
				break
			}
			n++
		}
		if n != 1 {
			t.Errorf("decoded %d, want 1", n)
		}
		if c.Address != 0x14 {
			t.Errorf("cursor stopped at %#x, want 0x14", c.Address)
		}
	})
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{Arch: "mips"})
	if err == nil {
		t.Fatal("Open(mips) succeeded")
	}
	if !errors.Is(err, ErrDecoderInit) {
		t.Errorf("error %v does not match ErrDecoderInit", err)
	}
	var ie *InitError
	if !errors.As(err, &ie) || ie.Arch != "mips" {
		t.Errorf("error %v is not an *InitError for mips", err)
	}
}

func TestCloseStopsDecoding(t *testing.T) {
	d, err := Open(Config{Arch: ArchARM})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, ok := d.Next(NewCursor(words(0xe1a00001), 0)); ok {
		t.Error("Next() after Close() succeeded")
	}
}

func TestParseArch(t *testing.T) {
	tests := []struct {
		in      string
		want    Arch
		wantErr bool
	}{
		{in: "arm", want: ArchARM},
		{in: "ARM32", want: ArchARM},
		{in: "aarch64", want: ArchARM64},
		{in: " arm64 ", want: ArchARM64},
		{in: "x86", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseArch(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseArch(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseArch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
