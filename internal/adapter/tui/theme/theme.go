// Package theme provides a unified visual design system for the TUI.
// All styles use adaptive colors that work on both light and dark terminals.
//
// NO_COLOR (https://no-color.org/) is respected automatically by lipgloss via
// its color profile detection.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// --- Adaptive Color Palette ---

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#64b5f6"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	ColorBorder = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBgAlt  = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	ColorFgDim  = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
)

// Gradient endpoints for the migration progress bar.
const (
	ProgressStart = "#1185FE" // Bluesky blue
	ProgressEnd   = "#E1306C" // Instagram pink
)

// --- Symbol variables (set by InitSymbols in symbols.go) ---

var (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolInfo     = "●"
	SymbolArrowR   = "→"
	SymbolBullet   = "•"
	SymbolEllipsis = "…"
)

// --- Base styles ---

var (
	Dim = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// --- Layout styles ---

var (
	Title = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Padding(0, 0, 1, 0)
)

// --- Status bar ---

var (
	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)
)

// --- Stat cards ---

var (
	StatCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StatValue = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	StatLabel = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// MaxContentWidth is the recommended max width for readable text content.
const MaxContentWidth = 100

// Apply selects the light or dark variant of every adaptive color instead of
// relying on background detection. Unknown names leave detection in place.
func Apply(name string) {
	switch name {
	case "dark":
		lipgloss.SetHasDarkBackground(true)
	case "light":
		lipgloss.SetHasDarkBackground(false)
	}
}

// Clamp returns v clamped to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
