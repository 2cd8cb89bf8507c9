// Package ui provides the terminal render helpers used by command
// output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
)

// RenderPass styles a success glyph or message.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail styles a failure glyph or message.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderWarn styles a warning glyph or message.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderAccent styles an informational glyph or message.
func RenderAccent(s string) string { return accentStyle.Render(s) }
