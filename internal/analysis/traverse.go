package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"codescan/internal/disasm"
	"codescan/internal/elfx"
)

// ErrNoSymbols is returned by SymbolGuided when no entry address lies
// inside the section.
var ErrNoSymbols = errors.New("no symbols in section")

// Decoder is the per-traversal decoding handle.
type Decoder interface {
	Next(c *disasm.Cursor) (disasm.Inst, bool)
	Close() error
}

// Opener creates a decoder for one traversal.
type Opener func(cfg disasm.Config) (Decoder, error)

// OpenDecoder opens a decoder backed by golang.org/x/arch.
func OpenDecoder(cfg disasm.Config) (Decoder, error) {
	d, err := disasm.Open(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Options configure the decoders a Traverser opens.
type Options struct {
	Arch           disasm.Arch
	LinearSkipData bool // emit .word for undecodable units during linear sweep
	SymbolSkipData bool // same, for symbol-guided traversal
}

// DefaultOptions returns skip-data on for linear sweep and off for
// symbol-guided traversal.
func DefaultOptions(arch disasm.Arch) Options {
	return Options{Arch: arch, LinearSkipData: true}
}

// Traverser runs a traversal strategy over a section.
type Traverser struct {
	open Opener
	opts Options
}

func NewTraverser(open Opener, opts Options) *Traverser {
	if open == nil {
		open = OpenDecoder
	}
	return &Traverser{open: open, opts: opts}
}

// Options returns the traverser configuration.
func (t *Traverser) Options() Options { return t.opts }

func (t *Traverser) decoder(skipData bool) (Decoder, error) {
	dec, err := t.open(disasm.Config{Arch: t.opts.Arch, Detail: true, SkipData: skipData})
	if err != nil {
		return nil, fmt.Errorf("open decoder: %w", err)
	}
	return dec, nil
}

// LinearSweep decodes sec from its first byte until the decoder stops.
func (t *Traverser) LinearSweep(sec *elfx.Section) (*Result, error) {
	dec, err := t.decoder(t.opts.LinearSkipData)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	res := newResult(sec, StrategyLinear)
	data := sectionBytes(sec, sec.Addr, sec.End())
	walk(dec, res, disasm.NewCursor(data, sec.Addr), nil)
	return res, nil
}

// SymbolGuided decodes each region between consecutive entries
// independently. Bytes before the first entry are not decoded.
func (t *Traverser) SymbolGuided(sec *elfx.Section, entries Entries) (*Result, error) {
	regions := Partition(sec, entries)
	if len(regions) == 0 {
		return nil, ErrNoSymbols
	}

	dec, err := t.decoder(t.opts.SymbolSkipData)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	res := newResult(sec, StrategySymbols)
	res.Regions = regions
	res.Uncovered = regions[0].Start - sec.Addr
	if res.Uncovered > 0 {
		slog.Debug("Leading bytes not covered by any symbol",
			"section", sec.Name, "bytes", res.Uncovered)
	}

	for i := range regions {
		r := &regions[i]
		data := sectionBytes(sec, r.Start, r.End)
		walk(dec, res, disasm.NewCursor(data, r.Start), r)
	}
	return res, nil
}

// Partition splits sec into regions starting at each entry address.
// Entries outside the section are dropped; the last region ends at the
// section end.
func Partition(sec *elfx.Section, entries Entries) []Region {
	addrs := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if sec.Contains(e.Addr) {
			addrs = append(addrs, e)
		}
	}
	sort.SliceStable(addrs, func(i, j int) bool { return addrs[i].Addr < addrs[j].Addr })

	var regions []Region
	for i, e := range addrs {
		if i > 0 && e.Addr == addrs[i-1].Addr {
			continue
		}
		if n := len(regions); n > 0 {
			regions[n-1].End = e.Addr
		}
		regions = append(regions, Region{Start: e.Addr, End: sec.End(), Label: e.Name})
	}
	return regions
}

func newResult(sec *elfx.Section, s Strategy) *Result {
	return &Result{
		Section:  sec.Name,
		Addr:     sec.Addr,
		Size:     sec.Size,
		Strategy: s,
	}
}

// sectionBytes returns the bytes of [start, end) with capacity capped at
// end, so decoding can never read past it.
func sectionBytes(sec *elfx.Section, start, end uint64) []byte {
	data := sec.Data()
	lo := start - sec.Addr
	hi := end - sec.Addr
	if hi > uint64(len(data)) {
		hi = uint64(len(data))
	}
	if lo > hi {
		return nil
	}
	return data[lo:hi:hi]
}

// walk decodes until the cursor is exhausted, recording events and
// statistics into res. region is nil for linear sweep.
func walk(dec Decoder, res *Result, c *disasm.Cursor, region *Region) {
	end := c.Address + uint64(len(c.Code))
	first := true
	for {
		at := c.Address
		inst, ok := dec.Next(c)
		if !ok {
			return
		}
		if inst.VA != at || inst.Size <= 0 || inst.End() > end {
			slog.Debug("Decoder result outside cursor bounds",
				"section", res.Section, "addr", at, "va", inst.VA, "size", inst.Size)
			return
		}

		blockEnd, direct := Classify(inst)
		ev := Event{Inst: inst, BlockEnd: blockEnd, Direct: direct}
		if first && region != nil {
			ev.RegionStart = true
			ev.Label = region.Label
		}
		first = false

		res.Events = append(res.Events, ev)
		res.Stats.Instructions++
		if blockEnd {
			res.Stats.BasicBlocks++
			if direct {
				res.Stats.DirectBranches++
			}
		}
	}
}
