package report

import (
	"fmt"
	"io"
	"strings"

	"codescan/internal/analysis"
	"codescan/internal/ui/colorize"
)

// TextOptions control the text sink.
type TextOptions struct {
	Listing bool // print every instruction
	Color   bool // colorize listing lines
}

// Text writes the classic per-section listing and summary.
type Text struct {
	w        io.Writer
	opts     TextOptions
	strategy analysis.Strategy // requested strategy, picks the section header
	n        int
}

func NewText(w io.Writer, opts TextOptions) *Text {
	return &Text{w: w, opts: opts}
}

func (t *Text) Begin(r *analysis.Report) error {
	t.strategy = r.Strategy
	return nil
}

func (t *Text) Section(sr *analysis.SectionReport) error {
	t.n++
	var b strings.Builder
	line := func(s string) {
		if t.opts.Color {
			s = colorize.ColorizeInstructionLine(s)
		}
		b.WriteString(s)
		b.WriteByte('\n')
	}

	if t.strategy == analysis.StrategySymbols {
		b.WriteString(separator + "\n")
		fmt.Fprintf(&b, "Section name: %s\n", sanitize(sr.Name))
	} else {
		fmt.Fprintf(&b, "Section Name: %s\n", sanitize(sr.Name))
	}

	if sr.Err != nil {
		fmt.Fprintf(&b, "Skipped: %v\n", sr.Err)
		return t.write(b.String())
	}

	res := sr.Result
	if res == nil {
		return t.write(b.String())
	}
	if res.NoSymbols {
		if res.Strategy == analysis.StrategyLinear {
			b.WriteString("No symbols in section, used linear sweep.\n")
		} else {
			b.WriteString("No symbols in section.\n")
		}
	}
	if t.opts.Listing {
		for _, l := range Listing(res) {
			line(sanitize(l))
		}
	}
	for _, l := range Summary(res.Stats) {
		b.WriteString(l + "\n")
	}
	return t.write(b.String())
}

// End prints totals when more than one section was reported.
func (t *Text) End(r *analysis.Report) error {
	if t.n < 2 {
		return nil
	}
	var b strings.Builder
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Total (%d sections)\n", t.n)
	for _, l := range Summary(r.Totals) {
		b.WriteString(l + "\n")
	}
	return t.write(b.String())
}

func (t *Text) write(s string) error {
	_, err := io.WriteString(t.w, s)
	return err
}
