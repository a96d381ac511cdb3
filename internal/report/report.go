// Package report renders sync plans for the plan command.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/sync"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Format selects the plan rendering
type Format string

const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

// ErrUnknownFormat is returned for an unsupported output format
var ErrUnknownFormat = errors.New("unknown output format")

// Formats lists the supported formats
var Formats = []Format{FormatTable, FormatYAML, FormatJSON}

// ParseFormat validates s as an output format
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Formats {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Write renders plan to w in the given format
func Write(w io.Writer, plan *sync.Plan, format Format) error {
	switch format {
	case FormatTable:
		return writeTable(w, plan)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plan); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plan); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeTable(w io.Writer, plan *sync.Plan) error {
	if plan.Empty() {
		_, err := fmt.Fprintln(w, "All mods are up to date.")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "action", "mod", "file", "channel", "reason"})
	for i, a := range plan.Actions {
		t.AppendRow(table.Row{i + 1, a.Kind, a.ModID, a.Filename, a.Channel, a.Reason})
	}
	t.AppendFooter(table.Row{"", "", "", summary(plan), "", ""})
	t.Render()
	return nil
}

func summary(plan *sync.Plan) string {
	s := fmt.Sprintf("%d delete, %d fetch", plan.Count(sync.ActionDelete), plan.Count(sync.ActionFetch))
	if n := plan.Count(sync.ActionBulkFetch); n > 0 {
		s += fmt.Sprintf(", %d channel", n)
	}
	return s
}
