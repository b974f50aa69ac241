package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"codescan/internal/analysis"
	"codescan/internal/codescan/styles"
)

// Markdown builds the summary document of a report.
func Markdown(r *analysis.Report) string {
	var b strings.Builder

	b.WriteString("# codescan\n\n")
	name := r.Path
	if name != "" {
		name = filepath.Base(name)
	} else {
		name = "(memory)"
	}
	var code uint64
	for _, sr := range r.Sections {
		code += sr.Size
	}
	fmt.Fprintf(&b, "```\n; %s\n; arch %s, %s strategy\n; %s of code in %d sections\n```\n\n",
		name, r.Arch, r.Strategy, humanize.IBytes(code), len(r.Sections))

	b.WriteString("## Sections\n\n")
	b.WriteString("| Section | Address | Size | Instructions | Blocks | Direct | Indirect |\n")
	b.WriteString("|---|---|---|---:|---:|---:|---:|\n")
	for _, sr := range r.Sections {
		if sr.Err != nil || sr.Result == nil {
			fmt.Fprintf(&b, "| `%s` | `0x%x` | %s | skipped | | | |\n",
				escapeBackticks(sanitize(sr.Name)), sr.Addr, humanize.IBytes(sr.Size))
			continue
		}
		s := sr.Result.Stats
		fmt.Fprintf(&b, "| `%s` | `0x%x` | %s | %s | %s | %s | %s |\n",
			escapeBackticks(sanitize(sr.Name)), sr.Addr, humanize.IBytes(sr.Size),
			humanize.Comma(int64(s.Instructions)),
			humanize.Comma(int64(s.BasicBlocks)),
			countPct(s.DirectBranches, s.DirectPercent),
			countPct(s.IndirectBranches(), s.IndirectPercent))
	}

	t := r.Totals
	b.WriteString("\n## Totals\n\n")
	fmt.Fprintf(&b, "- **Instructions:** %s\n", humanize.Comma(int64(t.Instructions)))
	fmt.Fprintf(&b, "- **Basic blocks:** %s\n", humanize.Comma(int64(t.BasicBlocks)))
	fmt.Fprintf(&b, "- **Direct jumps:** %s\n", countPct(t.DirectBranches, t.DirectPercent))
	fmt.Fprintf(&b, "- **Indirect jumps:** %s\n", countPct(t.IndirectBranches(), t.IndirectPercent))

	var notes []string
	for _, sr := range r.Sections {
		switch {
		case sr.Err != nil:
			notes = append(notes, fmt.Sprintf("`%s`: %v", escapeBackticks(sanitize(sr.Name)), sr.Err))
		case sr.Result != nil && sr.Result.NoSymbols:
			notes = append(notes, fmt.Sprintf("`%s`: no symbols", escapeBackticks(sanitize(sr.Name))))
		}
	}
	if len(notes) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, n := range notes {
			b.WriteString("- " + sanitize(n) + "\n")
		}
	}
	return b.String()
}

func countPct(n int, pct func() (float64, bool)) string {
	p, ok := pct()
	if !ok {
		return fmt.Sprintf("%s (n/a)", humanize.Comma(int64(n)))
	}
	return fmt.Sprintf("%s (%.1f%%)", humanize.Comma(int64(n)), p)
}

func escapeBackticks(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

// MarkdownSink renders the summary with glamour when the scan ends.
type MarkdownSink struct {
	w     io.Writer
	width int
	color bool
}

func NewMarkdown(w io.Writer, width int, color bool) *MarkdownSink {
	if width <= 0 {
		width = 80
	}
	return &MarkdownSink{w: w, width: width, color: color}
}

func (m *MarkdownSink) Begin(*analysis.Report) error { return nil }

func (m *MarkdownSink) Section(*analysis.SectionReport) error { return nil }

func (m *MarkdownSink) End(r *analysis.Report) error {
	_, err := io.WriteString(m.w, styles.Render(Markdown(r), m.width, m.color))
	return err
}
