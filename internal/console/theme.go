package console

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Tomato is the work-interval accent.
	Tomato = "#FF6347"
	// Basil is the break accent.
	Basil = "#5FAF5F"
	// Amber marks pauses and warnings.
	Amber = "#FFB000"
	// Slate is the muted text color for prompts.
	Slate = "#8A8AA3"
	// Cream is the countdown text color.
	Cream = "#F5F0E1"
)

const (
	// IconWork prefixes work banners.
	IconWork = "●"
	// IconBreak prefixes break banners.
	IconBreak = "◌"
	// IconPaused marks a paused countdown.
	IconPaused = "⏸"
	// IconSkipped marks a skipped interval.
	IconSkipped = "⊘"
	// IconAlarm marks an expired interval.
	IconAlarm = "⏰"
	// IconWarning marks non-fatal failures.
	IconWarning = "⚠"
)

var colorProfileFn = lipgloss.ColorProfile

// Theme holds the styles bound to one renderer.
type Theme struct {
	Work      lipgloss.Style
	Break     lipgloss.Style
	Countdown lipgloss.Style
	Status    lipgloss.Style
	Warning   lipgloss.Style
	Prompt    lipgloss.Style
}

// NewTheme builds the palette against r so color downsampling follows the output it writes to.
func NewTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		Work:      r.NewStyle().Foreground(paletteColor(Tomato, "203", "9")).Bold(true),
		Break:     r.NewStyle().Foreground(paletteColor(Basil, "71", "10")).Bold(true),
		Countdown: r.NewStyle().Foreground(paletteColor(Cream, "230", "15")),
		Status:    r.NewStyle().Foreground(paletteColor(Amber, "214", "11")),
		Warning:   r.NewStyle().Foreground(paletteColor(Amber, "214", "11")).Bold(true),
		Prompt:    r.NewStyle().Foreground(paletteColor(Slate, "103", "8")).Italic(true),
	}
}

func paletteColor(hex string, ansi256 string, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.ANSI256, termenv.ANSI:
		complete := lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi}
		return lipgloss.CompleteAdaptiveColor{Light: complete, Dark: complete}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}
