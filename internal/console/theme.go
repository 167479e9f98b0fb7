package console

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Coral is the mascot accent.
	Coral = "#E07A5F"
	// Sky is the informational blue.
	Sky = "#81B2D9"
	// Lilac marks plans and questions.
	Lilac = "#B59AD8"
	// Alert is the failure red.
	Alert = "#FF4D4D"
	// Leaf is the success green.
	Leaf = "#5FC977"
	// Dust is the muted neutral.
	Dust = "#7A7A8C"
)

const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconTool    = "▸"
	iconAgent   = "●"
	iconMascot  = "◆"
	iconPrompt  = "›"
	iconWaiting = "⏸"
)

var colorProfileFn = lipgloss.ColorProfile

func paletteColor(hex, ansi256, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.ANSI256, termenv.ANSI:
		c := lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi}
		return lipgloss.CompleteAdaptiveColor{Light: c, Dark: c}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}

// Styles is the console palette.
type Styles struct {
	Accent   lipgloss.Style
	Info     lipgloss.Style
	Planning lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Muted    lipgloss.Style
	Panel    lipgloss.Style
}

// DefaultStyles builds the palette for the current color profile.
func DefaultStyles() Styles {
	return Styles{
		Accent:   lipgloss.NewStyle().Foreground(paletteColor(Coral, "173", "11")).Bold(true),
		Info:     lipgloss.NewStyle().Foreground(paletteColor(Sky, "110", "12")),
		Planning: lipgloss.NewStyle().Foreground(paletteColor(Lilac, "140", "13")).Bold(true),
		Error:    lipgloss.NewStyle().Foreground(paletteColor(Alert, "203", "9")).Bold(true),
		Success:  lipgloss.NewStyle().Foreground(paletteColor(Leaf, "77", "10")).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(paletteColor(Dust, "102", "8")),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(paletteColor(Lilac, "140", "13")).
			Padding(0, 1),
	}
}

// PlainStyles renders without color or borders.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Accent: plain, Info: plain, Planning: plain, Error: plain, Success: plain, Muted: plain, Panel: plain}
}
