package disasm

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Arch names a decoder target.
type Arch string

const (
	ArchARM   Arch = "arm"
	ArchARM64 Arch = "arm64"
)

// ErrDecoderInit matches every decoder initialization failure.
var ErrDecoderInit = errors.New("decoder initialization failed")

var (
	errUnsupportedArch = errors.New("unsupported architecture")
	errTruncated       = errors.New("instruction extends past end of input")
)

// InitError reports that a decoder could not be opened for an architecture.
type InitError struct {
	Arch Arch
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to open %q decoder: %v", string(e.Arch), e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrDecoderInit }

// ParseArch maps a user supplied architecture name to an Arch.
func ParseArch(name string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "arm", "arm32", "a32":
		return ArchARM, nil
	case "arm64", "aarch64", "a64":
		return ArchARM64, nil
	}
	return "", fmt.Errorf("%w: %q", errUnsupportedArch, name)
}

// ArchForMachine returns the decoder target for an ELF machine.
func ArchForMachine(m elf.Machine) (Arch, bool) {
	switch m {
	case elf.EM_ARM:
		return ArchARM, true
	case elf.EM_AARCH64:
		return ArchARM64, true
	}
	return "", false
}

// backend decodes a single instruction for one architecture.
type backend interface {
	decode(code []byte, pc uint64, detail bool) (Inst, error)
	// unit is the number of bytes skipped over undecodable data.
	unit() int
}

var backends = map[Arch]func() backend{
	ArchARM:   newARM,
	ArchARM64: newARM64,
}

// Config is the per-handle decoder configuration.
type Config struct {
	Arch     Arch
	Detail   bool // record operands and groups
	SkipData bool // emit .word for undecodable units instead of stopping
}

// Decoder decodes instructions from a Cursor. A Decoder holds its own
// configuration and must not be shared between goroutines.
type Decoder struct {
	cfg    Config
	be     backend
	closed bool
}

// Open initializes a decoder for cfg.Arch.
func Open(cfg Config) (*Decoder, error) {
	ctor, ok := backends[cfg.Arch]
	if !ok {
		return nil, &InitError{Arch: cfg.Arch, Err: errUnsupportedArch}
	}
	return newDecoder(cfg, ctor()), nil
}

func newDecoder(cfg Config, be backend) *Decoder {
	return &Decoder{cfg: cfg, be: be}
}

// Config returns the configuration the decoder was opened with.
func (d *Decoder) Config() Config {
	return d.cfg
}

// Next decodes one instruction at the cursor and advances it by the
// instruction size. It returns false, leaving the cursor unchanged, when
// the input is exhausted or cannot be decoded.
func (d *Decoder) Next(c *Cursor) (Inst, bool) {
	if d == nil || d.closed || c == nil || len(c.Code) == 0 {
		return Inst{}, false
	}

	inst, err := d.be.decode(c.Code, c.Address, d.cfg.Detail)
	if err == nil && (inst.Size <= 0 || inst.Size > len(c.Code)) {
		err = errTruncated
	}
	if err != nil {
		if !d.cfg.SkipData {
			return Inst{}, false
		}
		n := d.be.unit()
		if len(c.Code) < n {
			return Inst{}, false
		}
		inst = dataInst(c.Code[:n], c.Address, d.cfg.Detail)
	}

	c.advance(inst.Size)
	return inst, true
}

// Close releases the decoder. Further calls to Next report exhaustion.
func (d *Decoder) Close() error {
	if d == nil {
		return nil
	}
	d.closed = true
	d.be = nil
	return nil
}

// dataInst builds the pseudo-instruction emitted for skipped bytes.
func dataInst(raw []byte, pc uint64, detail bool) Inst {
	inst := Inst{
		VA:   pc,
		Size: len(raw),
		Raw:  append([]byte(nil), raw...),
		Op:   ".word",
	}
	if len(raw) == 4 {
		inst.Operands = fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(raw))
	} else {
		inst.Op = ".byte"
		parts := make([]string, len(raw))
		for i, b := range raw {
			parts[i] = fmt.Sprintf("0x%02x", b)
		}
		inst.Operands = strings.Join(parts, ", ")
	}
	if detail {
		inst.Detail = &Detail{}
	}
	return inst
}

func formatAddr(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}
