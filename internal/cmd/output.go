package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/yoanbernabeu/nbexec/internal/security"
)

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorInfo    = lipgloss.Color("#3B82F6")
	colorMuted   = lipgloss.Color("#9CA3AF")

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorInfo)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

func printError(w io.Writer, msg string, args ...interface{}) {
	fmt.Fprintln(w, errorStyle.Render("✗ ")+fmt.Sprintf(msg, args...))
}

// PrintError prints a formatted error message
func (a *app) PrintError(msg string, args ...interface{}) {
	printError(a.errOut, msg, args...)
}

// PrintSuccess prints a success message
func (a *app) PrintSuccess(msg string, args ...interface{}) {
	fmt.Fprintln(a.out, successStyle.Render("✓ ")+fmt.Sprintf(msg, args...))
}

// PrintInfo prints an info message
func (a *app) PrintInfo(msg string, args ...interface{}) {
	fmt.Fprintln(a.out, infoStyle.Render("ℹ ")+fmt.Sprintf(msg, args...))
}

// PrintWarning prints a warning message
func (a *app) PrintWarning(msg string, args ...interface{}) {
	fmt.Fprintln(a.out, warningStyle.Render("! ")+fmt.Sprintf(msg, args...))
}

// PrintVerbose prints a message only in verbose mode
func (a *app) PrintVerbose(msg string, args ...interface{}) {
	if a.opts.verbose {
		fmt.Fprintln(a.out, mutedStyle.Render("  "+fmt.Sprintf(msg, args...)))
	}
}

// PrintVerboseCommand prints a command in verbose mode with sensitive values masked
func (a *app) PrintVerboseCommand(command string) {
	a.PrintVerbose("Running: %s", security.SanitizeCommandForLog(command))
}
