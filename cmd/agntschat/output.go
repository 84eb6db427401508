package main

import (
	"fmt"
	"os"

	"agntschat/internal/adapter/tui/theme"
)

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}

func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func okMark() string   { return theme.TextSuccess.Render(theme.SymbolSuccess) }
func errMark() string  { return theme.TextError.Render(theme.SymbolError) }
func warnMark() string { return theme.TextWarning.Render(theme.SymbolWarning) }
