package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	infoColor  = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow, color.Bold)
	errorColor = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.Faint)
)

// printWarn prints a warning line
func printWarn(w io.Writer, format string, args ...any) {
	warnColor.Fprintln(w, "[-] "+fmt.Sprintf(format, args...))
}

// printError prints an error line
func printError(w io.Writer, err error) {
	errorColor.Fprintln(w, "[!] "+FormatUserError(err))
}

// printInfo prints an informational line
func printInfo(w io.Writer, format string, args ...any) {
	infoColor.Fprintln(w, "[*] "+fmt.Sprintf(format, args...))
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or 80 when it is not a terminal
func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}
