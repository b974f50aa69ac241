package analysis

import "codescan/internal/disasm"

// Stats are the counters of one traversal.
type Stats struct {
	Instructions   int `json:"instructions"`
	BasicBlocks    int `json:"basic_blocks"`
	DirectBranches int `json:"direct_branches"`
}

// IndirectBranches is every block end that is not direct.
func (s Stats) IndirectBranches() int {
	return s.BasicBlocks - s.DirectBranches
}

// DirectPercent returns the share of direct block ends. ok is false
// when no block end was seen.
func (s Stats) DirectPercent() (pct float64, ok bool) {
	if s.BasicBlocks == 0 {
		return 0, false
	}
	return float64(s.DirectBranches) / float64(s.BasicBlocks) * 100, true
}

// IndirectPercent returns the share of indirect block ends. ok is false
// when no block end was seen.
func (s Stats) IndirectPercent() (pct float64, ok bool) {
	if s.BasicBlocks == 0 {
		return 0, false
	}
	return float64(s.IndirectBranches()) / float64(s.BasicBlocks) * 100, true
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Instructions += o.Instructions
	s.BasicBlocks += o.BasicBlocks
	s.DirectBranches += o.DirectBranches
}

// Event is one decoded instruction as seen by the traversal.
type Event struct {
	Inst        disasm.Inst
	BlockEnd    bool
	Direct      bool
	RegionStart bool   // first instruction of a symbol region
	Label       string // region label, set with RegionStart
}

// Region is the byte range [Start, End) decoded from one entry address.
type Region struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	Label string `json:"label,omitempty"`
}

// Len is the region size in bytes.
func (r Region) Len() uint64 { return r.End - r.Start }

// Result is the outcome of traversing one section.
type Result struct {
	Section   string
	Addr      uint64
	Size      uint64
	Strategy  Strategy
	Regions   []Region
	Events    []Event
	Stats     Stats
	Uncovered uint64 // bytes before the first entry address
	NoSymbols bool   // symbol-guided traversal had no entries
}
