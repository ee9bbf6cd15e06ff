package cmd

import (
	"encoding/json"
	"fmt"
	"os"
)

// ── Output helpers ────────────────────────────────────────────────────────────
// Icon semantics:
//   ✓  success
//   ✗  error / failure          (written to stderr)
//   ⚠  warning
//   ○  skipped / up to date
//   ~  neutral info / progress

// printSection prints a top-level section header, e.g. "=== Index ===".
func printSection(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

// printOK prints a success line.
//   name = "" → "  ✓  msg"
//   name set  → "  ✓  [name] msg"
func printOK(name, msg string) {
	printLine(os.Stdout, "✓", name, msg)
}

// printErr prints an error line to stderr.
func printErr(name, msg string) {
	printLine(os.Stderr, "✗", name, msg)
}

func printWarn(name, msg string) {
	printLine(os.Stdout, "⚠", name, msg)
}

func printSkip(name, msg string) {
	printLine(os.Stdout, "○", name, msg)
}

func printInfo(name, msg string) {
	printLine(os.Stdout, "~", name, msg)
}

func printLine(f *os.File, icon, name, msg string) {
	if name == "" {
		fmt.Fprintf(f, "  %s  %s\n", icon, msg)
	} else {
		fmt.Fprintf(f, "  %s  [%s] %s\n", icon, name, msg)
	}
}

// printJSON writes v as indented JSON to stdout; used by --json.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
