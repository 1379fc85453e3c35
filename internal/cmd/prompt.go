package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdin is replaced in tests
var stdin io.Reader = os.Stdin

// isTerminal is replaced in tests
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PromptConfirm asks a yes/no question and returns true only on "y" or "yes"
func (a *app) PromptConfirm(message string) bool {
	fmt.Fprintf(a.out, "? %s [y/N]: ", message)

	reader := bufio.NewReader(stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// IsInteractive returns true if stdin is a terminal and --yes is not set
func (a *app) IsInteractive() bool {
	if a.opts.yes {
		return false
	}
	return isTerminal()
}
