package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the console color scheme.
type Theme struct {
	Primary lipgloss.Color // accent color for borders and labels
	Dim     lipgloss.Color // help text and status tags
}

// DefaultTheme is the default voicewire theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#35c3ff"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Section is one labeled region of the frame. Weight sets the share of
// vertical space the section gets relative to its siblings; zero
// counts as one. Content is called at render time.
type Section struct {
	Label   string
	Weight  int
	Content func() []string
}

// Frame draws a full-screen console layout: a box with a title row,
// labeled sections stacked inside it, and a help line underneath.
type Frame struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
	Help     string
}

// Render draws the frame at the given terminal size.
func (f Frame) Render(width, height int) string {
	if width == 0 || height == 0 {
		return "Loading..."
	}

	fw := frameWriter{border: f.Styles.Border, width: width}

	fw.rule("╭", "╮")
	fw.titleRow(f.Styles.Title.Render(f.Title), f.Styles.Help.Render("["+f.Status+"]"))
	fw.row("")

	// Rows left for section content: the chrome takes five lines (top,
	// title, the spacer under it, bottom, help) and each section spends
	// one more on its label rule.
	avail := height - 5 - max(len(f.Sections), 1)
	heights := sectionHeights(f.Sections, avail)
	for i, sec := range f.Sections {
		f.paintSection(&fw, sec, heights[i])
	}

	fw.rule("╰", "╯")
	fw.lines = append(fw.lines, f.Styles.Help.Render(f.Help))

	return strings.Join(fw.lines, "\n")
}

// sectionHeights splits the available rows between sections in
// proportion to their weights. Every section gets at least two rows;
// rounding leftovers go to the heaviest section.
func sectionHeights(sections []Section, available int) []int {
	heights := make([]int, len(sections))
	totalWeight := 0
	heaviest := 0
	for i, sec := range sections {
		w := max(sec.Weight, 1)
		totalWeight += w
		if w > max(sections[heaviest].Weight, 1) {
			heaviest = i
		}
	}
	if totalWeight == 0 {
		return heights
	}

	used := 0
	for i, sec := range sections {
		w := max(sec.Weight, 1)
		heights[i] = max(available*w/totalWeight, 2)
		used += heights[i]
	}
	if leftover := available - used; leftover > 0 {
		heights[heaviest] += leftover
	}
	return heights
}

// paintSection draws one labeled section: its divider rule, then the
// last rows of its content, clipped to the frame width.
func (f Frame) paintSection(fw *frameWriter, sec Section, rows int) {
	fw.labelRule(f.Styles.Label.Render(sec.Label))

	content := sec.Content()
	if len(content) > rows {
		content = content[len(content)-rows:]
	}

	inner := fw.width - 4
	for i := 0; i < rows; i++ {
		text := ""
		if i < len(content) {
			text = content[i]
		}
		if inner > 1 && lipgloss.Width(text) > inner {
			text = truncateString(text, inner-1) + "…"
		}
		fw.row(text)
	}
}

// frameWriter accumulates rendered rows of a fixed-width frame.
type frameWriter struct {
	border lipgloss.Style
	width  int
	lines  []string
}

// rule draws a horizontal border row with the given corner glyphs.
func (w *frameWriter) rule(left, right string) {
	w.lines = append(w.lines, w.border.Render(left+strings.Repeat("─", w.width-2)+right))
}

// row draws one interior row: text left-aligned between the side
// borders with a one-column gutter on each side.
func (w *frameWriter) row(text string) {
	pad := max(0, w.width-4-lipgloss.Width(text))
	w.lines = append(w.lines,
		w.border.Render("│")+" "+text+strings.Repeat(" ", pad)+" "+w.border.Render("│"))
}

// titleRow draws the title followed by the status tag, padded out to
// the right border.
func (w *frameWriter) titleRow(title, status string) {
	pad := max(0, w.width-5-lipgloss.Width(title)-lipgloss.Width(status))
	w.lines = append(w.lines,
		w.border.Render("│")+" "+title+" "+status+strings.Repeat(" ", pad)+" "+w.border.Render("│"))
}

// labelRule draws a section divider with the label embedded in it,
// like ├─Transcript──────┤.
func (w *frameWriter) labelRule(label string) {
	pad := max(0, w.width-3-lipgloss.Width(label))
	w.lines = append(w.lines,
		w.border.Render("├")+w.border.Render("─")+label+w.border.Render(strings.Repeat("─", pad))+w.border.Render("┤"))
}

// truncateString cuts s down to at most width terminal columns without
// splitting a multi-byte rune.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	var b strings.Builder
	cols := 0
	for _, r := range s {
		w := lipgloss.Width(string(r))
		if cols+w > width {
			return b.String()
		}
		b.WriteRune(r)
		cols += w
	}
	return s
}
