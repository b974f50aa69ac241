package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/dustin/go-humanize"

	"codescan/internal/analysis"
	"codescan/internal/codescan/styles"
	"codescan/internal/report"
	"codescan/internal/ui/colorize"
)

type viewMode int

const (
	viewSummary viewMode = iota
	viewSections
	viewListing
)

type sectionItem struct {
	sr *analysis.SectionReport
}

func (i sectionItem) Title() string       { return i.sr.Name }
func (i sectionItem) Description() string { return "" }
func (i sectionItem) FilterValue() string { return fmt.Sprintf("%x %s", i.sr.Addr, i.sr.Name) }

// Custom item delegate for the sections list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(sectionItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := styles.Muted
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.Selected
	}

	var stats string
	switch {
	case i.sr.Err != nil:
		stats = styles.Warning.Render("skipped")
	case i.sr.Result != nil:
		s := i.sr.Result.Stats
		stats = fmt.Sprintf("%s insns, %s blocks", humanize.Comma(int64(s.Instructions)), humanize.Comma(int64(s.BasicBlocks)))
		if i.sr.Result.NoSymbols {
			stats += styles.Muted.Render(" (no symbols)")
		}
	}

	fmt.Fprintf(w, " %s  %s  %-20s %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%08x", i.sr.Addr)),
		i.sr.Name,
		stats)
}

type model struct {
	ctx      context.Context
	req      scanRequest
	summary  viewport.Model
	sections list.Model
	listing  viewport.Model
	spinner  spinner.Model
	mode     viewMode
	report   *analysis.Report
	err      error
	scanning bool
	width    int
	height   int
}

type scanDoneMsg struct {
	report *analysis.Report
	err    error
}

func scanCmd(ctx context.Context, req scanRequest) tea.Cmd {
	return func() tea.Msg {
		rep, err := scanReport(ctx, req)
		return scanDoneMsg{report: rep, err: err}
	}
}

func NewModel(ctx context.Context, req scanRequest) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	lvp := viewport.New()
	lvp.SetWidth(80)
	lvp.SetHeight(24)

	sections := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	sections.SetShowStatusBar(false)
	sections.SetFilteringEnabled(true)
	sections.Title = "Sections"
	sections.Styles.Title = styles.Title
	sections.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Selected

	m := model{
		ctx:      ctx,
		req:      req,
		summary:  vp,
		sections: sections,
		listing:  lvp,
		spinner:  s,
		mode:     viewSummary,
		scanning: true,
		width:    80,
		height:   24,
	}
	m.updateSummary()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(scanCmd(m.ctx, m.req), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case scanDoneMsg:
		m.scanning = false
		m.report = msg.report
		m.err = msg.err
		if m.report != nil {
			items := make([]list.Item, 0, len(m.report.Sections))
			for _, sr := range m.report.Sections {
				items = append(items, sectionItem{sr: sr})
			}
			m.sections.SetItems(items)
			m.sections.Title = fmt.Sprintf("Sections (%d)", len(items))
		}
		m.updateSummary()
		return m, nil

	case spinner.TickMsg:
		if !m.scanning {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateSummary()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.sections.SetWidth(msg.Width)
			m.sections.SetHeight(msg.Height - 2)
			m.listing.SetWidth(msg.Width)
			m.listing.SetHeight(msg.Height - 2)
			m.updateSummary()
		}

	case tea.KeyMsg:
		if m.mode == viewSections && m.sections.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.mode = viewSummary
			return m, nil
		case "s":
			if m.hasSections() {
				m.mode = viewSections
			}
			return m, nil
		case "esc":
			if m.mode == viewListing {
				m.mode = viewSections
				return m, nil
			}
		case "enter":
			if m.mode == viewSections {
				if item, ok := m.sections.SelectedItem().(sectionItem); ok {
					m.listing.SetContent(sectionListing(item.sr))
					m.listing.GotoTop()
					m.mode = viewListing
				}
				return m, nil
			}
		case "tab":
			if m.hasSections() {
				if m.mode == viewSummary {
					m.mode = viewSections
				} else {
					m.mode = viewSummary
				}
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewSections:
		m.sections, cmd = m.sections.Update(msg)
	case viewListing:
		m.listing, cmd = m.listing.Update(msg)
	default:
		m.summary, cmd = m.summary.Update(msg)
	}
	return m, cmd
}

func (m model) hasSections() bool {
	return m.report != nil && len(m.report.Sections) > 0
}

func (m model) View() string {
	var content, menu string
	switch m.mode {
	case viewSections:
		content = m.sections.View()
		menu = " Enter: listing • R: summary • Tab: cycle • Q: quit "
	case viewListing:
		content = m.listing.View()
		menu = " Esc: sections • R: summary • Q: quit "
	default:
		content = m.summary.View()
		if m.hasSections() {
			menu = " S: sections • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

func (m *model) updateSummary() {
	var md string
	switch {
	case m.scanning:
		md = fmt.Sprintf("# codescan\n\n```\n; %s\n```\n\n%s Scanning...", m.req.Path, m.spinner.View())
	case m.err != nil:
		md = fmt.Sprintf("# codescan\n\n```\n; %s\n```\n\n**Scan failed:** %s", m.req.Path, escapeMarkdown(m.err.Error()))
	default:
		md = report.Markdown(m.report)
	}

	width := m.width
	if width == 0 {
		width = 80
	}
	rendered := styles.Render(md, width-2, colorize.Enabled())
	m.summary.SetContent(strings.TrimSuffix(rendered, "\n"))
}

// sectionListing renders the colorized listing and summary of a section.
func sectionListing(sr *analysis.SectionReport) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render(sr.Name) + "\n\n")
	if sr.Err != nil {
		b.WriteString(styles.Warning.Render("Skipped: "+sr.Err.Error()) + "\n")
		return b.String()
	}
	if sr.Result == nil {
		return b.String()
	}
	if sr.Result.NoSymbols {
		b.WriteString(styles.Muted.Render("No symbols in section.") + "\n")
	}
	for _, l := range report.Listing(sr.Result) {
		b.WriteString(colorize.ColorizeInstructionLine(l) + "\n")
	}
	b.WriteString("\n")
	for _, l := range report.Summary(sr.Result.Stats) {
		b.WriteString(lipgloss.NewStyle().Bold(true).Render(l) + "\n")
	}
	return b.String()
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "`", "'").Replace(s)
}
