// Package ui provides styled terminal output for the CLI. Styling is
// disabled automatically when stdout is not a terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)

	colorEnabled = detectColor()
)

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

func render(s lipgloss.Style, text string) string {
	if !colorEnabled {
		return text
	}
	return s.Render(text)
}

// RenderAccent highlights headings and progress markers.
func RenderAccent(text string) string { return render(accentStyle, text) }

// RenderPass marks success.
func RenderPass(text string) string { return render(passStyle, text) }

// RenderWarn marks something worth attention but not fatal.
func RenderWarn(text string) string { return render(warnStyle, text) }

// RenderErr marks failure.
func RenderErr(text string) string { return render(errStyle, text) }

// RenderDim de-emphasizes secondary detail.
func RenderDim(text string) string { return render(dimStyle, text) }
