// ABOUTME: Output helpers shared by vouch-admin commands
// ABOUTME: Text mode prints coloured tables, JSON mode prints one document per command

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	dim     = color.New(color.FgHiBlack)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// row prints a left-aligned label and a value.
func row(w io.Writer, label string, value any) {
	dim.Fprintf(w, "  %-22s", label)
	fmt.Fprintf(w, "%v\n", value)
}
