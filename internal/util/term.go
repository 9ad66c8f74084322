package util

import (
	"os"

	"github.com/mattn/go-isatty"
)

// ShouldUseColors reports whether stdout is an interactive terminal.
// NO_COLOR always wins.
func ShouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
