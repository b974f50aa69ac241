// Package elfx provides helpers for opening ELF binaries and raw firmware
// images, enumerating their sections, and reading symbol tables.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
)

type Image struct {
	Path     string
	File     *elf.File // nil for raw images
	All      []byte
	Loads    []Seg
	machine  elf.Machine
	sections []*Section
	f        *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

// Section is a named byte range of the image. Sections are owned by the
// Image and must not be used after it is closed.
type Section struct {
	Name   string
	Type   elf.SectionType
	Flags  elf.SectionFlag
	Addr   uint64
	Offset uint64
	Size   uint64

	data []byte
	syms func() ([]Symbol, error)
}

type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// TypeMismatchError reports a section read as a kind it is not.
type TypeMismatchError struct {
	Section string
	Want    elf.SectionType
	Got     elf.SectionType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("section %s: type %v, want %v", e.Section, e.Got, e.Want)
}

// CorruptSymbolTableError reports a symbol table section whose contents
// cannot be read.
type CorruptSymbolTableError struct {
	Section string
	Err     error
}

func (e *CorruptSymbolTableError) Error() string {
	return fmt.Sprintf("section %s: corrupt symbol table: %v", e.Section, e.Err)
}

func (e *CorruptSymbolTableError) Unwrap() error { return e.Err }

// NewSection builds a section over data. Flags decide whether it is
// considered for scanning.
func NewSection(name string, typ elf.SectionType, flags elf.SectionFlag, addr uint64, data []byte) *Section {
	return &Section{
		Name:  name,
		Type:  typ,
		Flags: flags,
		Addr:  addr,
		Size:  uint64(len(data)),
		data:  data,
	}
}

// NewCodeSection builds an allocated, executable PROGBITS section.
func NewCodeSection(name string, addr uint64, data []byte) *Section {
	return NewSection(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, addr, data)
}

// NewSymbolTable builds a SHT_SYMTAB section holding syms.
func NewSymbolTable(name string, syms []Symbol) *Section {
	return NewSymbolTableFunc(name, func() ([]Symbol, error) { return syms, nil })
}

// NewSymbolTableFunc builds a SHT_SYMTAB section whose symbols are read
// by load on first use.
func NewSymbolTableFunc(name string, load func() ([]Symbol, error)) *Section {
	return &Section{Name: name, Type: elf.SHT_SYMTAB, syms: load}
}

func (s *Section) IsAlloc() bool { return s.Flags&elf.SHF_ALLOC != 0 }

func (s *Section) IsExec() bool { return s.Flags&elf.SHF_EXECINSTR != 0 }

// Data returns the section bytes. The slice aliases the image mapping.
func (s *Section) Data() []byte { return s.data }

// End is the address just past the section.
func (s *Section) End() uint64 { return s.Addr + s.Size }

// Contains reports whether addr lies in [Addr, End).
func (s *Section) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.End()
}

// AsSymbolTable reads the section as a symbol table. It fails with a
// *TypeMismatchError when the section is of another type and with a
// *CorruptSymbolTableError when its entries cannot be read.
func (s *Section) AsSymbolTable() ([]Symbol, error) {
	if s.Type != elf.SHT_SYMTAB || s.syms == nil {
		return nil, &TypeMismatchError{Section: s.Name, Want: elf.SHT_SYMTAB, Got: s.Type}
	}
	syms, err := s.syms()
	if err != nil {
		return nil, &CorruptSymbolTableError{Section: s.Name, Err: err}
	}
	return syms, nil
}

// NewImage assembles an in-memory image from sections.
func NewImage(machine elf.Machine, sections ...*Section) *Image {
	return &Image{machine: machine, sections: sections}
}

// Open maps an ELF file and indexes its sections.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, all, err := mapFile(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	im := &Image{Path: path, File: f, All: all, machine: f.Machine, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	symbols := sync.OnceValues(func() ([]Symbol, error) {
		syms, err := f.Symbols()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				return nil, nil
			}
			return nil, err
		}
		out := make([]Symbol, 0, len(syms))
		for _, s := range syms {
			out = append(out, Symbol{Name: s.Name, Value: s.Value, Size: s.Size})
		}
		return out, nil
	})

	for _, s := range f.Sections {
		if s.Type == elf.SHT_NULL {
			continue
		}
		sec := &Section{
			Name:   s.Name,
			Type:   s.Type,
			Flags:  s.Flags,
			Addr:   s.Addr,
			Offset: s.Offset,
			Size:   s.Size,
		}
		if s.Type != elf.SHT_NOBITS {
			end := s.Offset + s.Size
			if end < s.Offset || end > uint64(len(all)) {
				im.Close()
				return nil, fmt.Errorf("section %s: range [%#x, %#x) outside file", s.Name, s.Offset, end)
			}
			sec.data = all[s.Offset:end:end]
		}
		if s.Type == elf.SHT_SYMTAB {
			sec.syms = symbols
		}
		im.sections = append(im.sections, sec)
	}

	// Stripped of section headers: fall back to executable segments.
	if !im.hasCode() {
		for i, l := range im.Loads {
			if l.Flags&elf.PF_X == 0 || l.Filesz == 0 {
				continue
			}
			end := l.Off + l.Filesz
			if end > uint64(len(all)) {
				continue
			}
			im.sections = append(im.sections, &Section{
				Name:   fmt.Sprintf("LOAD(exec)#%d", i),
				Type:   elf.SHT_PROGBITS,
				Flags:  elf.SHF_ALLOC | elf.SHF_EXECINSTR,
				Addr:   l.Vaddr,
				Offset: l.Off,
				Size:   l.Filesz,
				data:   all[l.Off:end:end],
			})
		}
	}
	return im, nil
}

// OpenRaw maps a headerless firmware blob as a single executable
// ".text" section loaded at base.
func OpenRaw(path string, base uint64) (*Image, error) {
	of, all, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	im := &Image{Path: path, All: all, machine: elf.EM_NONE, f: of}
	text := NewCodeSection(".text", base, all)
	im.sections = []*Section{text}
	im.Loads = []Seg{{Vaddr: base, Filesz: uint64(len(all)), Flags: elf.PF_R | elf.PF_X}}
	return im, nil
}

func mapFile(path string) (*os.File, []byte, error) {
	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		return nil, nil, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() == 0 {
		return of, nil, nil
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		return nil, nil, fmt.Errorf("mmap file: %w", err)
	}
	return of, all, nil
}

func (im *Image) hasCode() bool {
	for _, s := range im.sections {
		if s.IsAlloc() && s.IsExec() {
			return true
		}
	}
	return false
}

// Machine returns the ELF machine, or EM_NONE for raw images.
func (im *Image) Machine() elf.Machine { return im.machine }

// Sections returns the sections in header order.
func (im *Image) Sections() []*Section { return im.sections }

// Section returns the first section called name, or nil.
func (im *Image) Section(name string) *Section {
	for _, s := range im.sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// HasSymbolTable reports whether a ".symtab" section is present.
func (im *Image) HasSymbolTable() bool {
	return im.Section(".symtab") != nil
}

// CodeSize sums the sizes of allocated executable sections.
func (im *Image) CodeSize() uint64 {
	var n uint64
	for _, s := range im.sections {
		if s.IsAlloc() && s.IsExec() {
			n += s.Size
		}
	}
	return n
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}
