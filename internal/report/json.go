package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"codescan/internal/analysis"
)

// Document is the JSON form of a scan report.
type Document struct {
	Path     string    `json:"path"`
	Arch     string    `json:"arch"`
	Strategy string    `json:"strategy"`
	Sections []Section `json:"sections"`
	Totals   Stats     `json:"totals"`
}

type Section struct {
	Name         string            `json:"name"`
	Addr         string            `json:"addr"`
	Size         uint64            `json:"size"`
	Strategy     string            `json:"strategy,omitempty"`
	NoSymbols    bool              `json:"no_symbols,omitempty"`
	Uncovered    uint64            `json:"uncovered,omitempty"`
	Error        string            `json:"error,omitempty"`
	Stats        *Stats            `json:"stats,omitempty"`
	Regions      []analysis.Region `json:"regions,omitempty"`
	Instructions []Instruction     `json:"instructions,omitempty"`
}

// Stats carries counts and percentages. Percentages are null when the
// section has no block ends.
type Stats struct {
	Instructions     int      `json:"instructions"`
	BasicBlocks      int      `json:"basic_blocks"`
	DirectBranches   int      `json:"direct_branches"`
	IndirectBranches int      `json:"indirect_branches"`
	DirectPercent    *float64 `json:"direct_percent"`
	IndirectPercent  *float64 `json:"indirect_percent"`
}

type Instruction struct {
	Addr     string `json:"addr"`
	Bytes    string `json:"bytes"`
	Mnemonic string `json:"mnemonic"`
	Operands string `json:"operands,omitempty"`
	Label    string `json:"label,omitempty"`
	BlockEnd bool   `json:"block_end,omitempty"`
	Direct   bool   `json:"direct,omitempty"`
}

func newStats(s analysis.Stats) Stats {
	out := Stats{
		Instructions:     s.Instructions,
		BasicBlocks:      s.BasicBlocks,
		DirectBranches:   s.DirectBranches,
		IndirectBranches: s.IndirectBranches(),
	}
	if p, ok := s.DirectPercent(); ok {
		out.DirectPercent = &p
	}
	if p, ok := s.IndirectPercent(); ok {
		out.IndirectPercent = &p
	}
	return out
}

// NewDocument converts a report. Instructions are included when listing
// is set.
func NewDocument(r *analysis.Report, listing bool) Document {
	doc := Document{
		Path:     r.Path,
		Arch:     r.Arch,
		Strategy: string(r.Strategy),
		Sections: make([]Section, 0, len(r.Sections)),
		Totals:   newStats(r.Totals),
	}
	for _, sr := range r.Sections {
		doc.Sections = append(doc.Sections, newSection(sr, listing))
	}
	return doc
}

func newSection(sr *analysis.SectionReport, listing bool) Section {
	s := Section{
		Name: sanitize(sr.Name),
		Addr: fmt.Sprintf("0x%x", sr.Addr),
		Size: sr.Size,
	}
	if sr.Err != nil {
		s.Error = sr.Err.Error()
		return s
	}
	res := sr.Result
	st := newStats(res.Stats)
	s.Stats = &st
	s.Strategy = string(res.Strategy)
	s.NoSymbols = res.NoSymbols
	s.Uncovered = res.Uncovered
	s.Regions = res.Regions
	if listing {
		s.Instructions = make([]Instruction, 0, len(res.Events))
		for _, ev := range res.Events {
			in := Instruction{
				Addr:     fmt.Sprintf("0x%x", ev.Inst.VA),
				Bytes:    hex.EncodeToString(ev.Inst.Raw),
				Mnemonic: ev.Inst.Op,
				Operands: ev.Inst.Operands,
				BlockEnd: ev.BlockEnd,
				Direct:   ev.Direct,
			}
			if ev.RegionStart {
				in.Label = sanitize(RegionLabel(ev.Label, ev.Inst.VA))
			}
			s.Instructions = append(s.Instructions, in)
		}
	}
	return s
}

// JSON writes the whole document once the scan ends.
type JSON struct {
	w       io.Writer
	listing bool
}

func NewJSON(w io.Writer, listing bool) *JSON {
	return &JSON{w: w, listing: listing}
}

func (j *JSON) Begin(*analysis.Report) error { return nil }

func (j *JSON) Section(*analysis.SectionReport) error { return nil }

func (j *JSON) End(r *analysis.Report) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(r, j.listing)); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
