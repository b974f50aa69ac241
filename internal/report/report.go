// Package report renders scan results as the classic text listing, a
// JSON document, or a markdown summary.
package report

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"codescan/internal/analysis"
)

const separator = "***********************************"

// RegionLabel returns the label printed at the start of a region.
func RegionLabel(label string, addr uint64) string {
	if label == "" {
		return fmt.Sprintf("sub_%x", addr)
	}
	return label
}

// FormatPercent formats a percentage, or "n/a" when there were no
// block ends to divide by.
func FormatPercent(pct float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.2f %%", pct)
}

// InstLine formats one listing line.
func InstLine(ev analysis.Event) string {
	return fmt.Sprintf("0x%x:\t%s\t\t%s", ev.Inst.VA, ev.Inst.Op, ev.Inst.Operands)
}

// Listing returns the instruction lines of a result, with region labels
// and block-end markers. Every region is labelled, including regions in
// which nothing decoded.
func Listing(res *analysis.Result) []string {
	if res == nil {
		return nil
	}
	lines := make([]string, 0, len(res.Events)+len(res.Regions))
	inst := func(ev analysis.Event) {
		lines = append(lines, InstLine(ev))
		if ev.BlockEnd {
			lines = append(lines, "Basic block end.", separator)
		}
	}

	if len(res.Regions) == 0 {
		for _, ev := range res.Events {
			if ev.RegionStart {
				lines = append(lines, RegionLabel(ev.Label, ev.Inst.VA)+":")
			}
			inst(ev)
		}
		return lines
	}

	i := 0
	for _, r := range res.Regions {
		lines = append(lines, RegionLabel(r.Label, r.Start)+":")
		for ; i < len(res.Events) && res.Events[i].Inst.VA < r.End; i++ {
			inst(res.Events[i])
		}
	}
	return lines
}

// Summary returns the count and percentage lines for stats.
func Summary(s analysis.Stats) []string {
	direct, dok := s.DirectPercent()
	indirect, iok := s.IndirectPercent()
	lines := []string{
		fmt.Sprintf("Instruction count: %d", s.Instructions),
		fmt.Sprintf("Basic Block count: %d", s.BasicBlocks),
		fmt.Sprintf("Direct jumps: %d (%s)", s.DirectBranches, FormatPercent(direct, dok)),
		fmt.Sprintf("Indirect jumps: %d (%s)", s.IndirectBranches(), FormatPercent(indirect, iok)),
	}
	if s.BasicBlocks == 0 {
		lines = append(lines, "No branches found.")
	}
	return lines
}

// sanitize cleans a string to be valid UTF-8 and safe for output
func sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}
