// Package ui provides terminal rendering helpers for the drift CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// colorEnabled reports whether the terminal supports color output.
func colorEnabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// RenderPass renders text as a success indicator.
func RenderPass(s string) string {
	if !colorEnabled() {
		return s
	}
	return passStyle.Render(s)
}

// RenderFail renders text as a failure indicator.
func RenderFail(s string) string {
	if !colorEnabled() {
		return s
	}
	return failStyle.Render(s)
}

// RenderWarn renders text as a warning.
func RenderWarn(s string) string {
	if !colorEnabled() {
		return s
	}
	return warnStyle.Render(s)
}

// RenderAccent renders text emphasized.
func RenderAccent(s string) string {
	if !colorEnabled() {
		return s
	}
	return accentStyle.Render(s)
}

// RenderMuted renders text de-emphasized.
func RenderMuted(s string) string {
	if !colorEnabled() {
		return s
	}
	return mutedStyle.Render(s)
}
