package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used for text output.
type Styles struct {
	Header    lipgloss.Style
	Subheader lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Muted     lipgloss.Style
	Code      lipgloss.Style
}

func newStyles(re *lipgloss.Renderer) *Styles {
	return &Styles{
		Header:    re.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1),
		Subheader: re.NewStyle().Bold(true),
		Success:   re.NewStyle().Foreground(lipgloss.Color("10")),
		Error:     re.NewStyle().Foreground(lipgloss.Color("9")),
		Warning:   re.NewStyle().Foreground(lipgloss.Color("11")),
		Info:      re.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:     re.NewStyle().Foreground(lipgloss.Color("8")),
		Code:      re.NewStyle().PaddingLeft(2),
	}
}
