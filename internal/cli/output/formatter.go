package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"go.yaml.in/yaml/v3"
)

// Format is an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json or yaml.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Tabular is implemented by results that have a table form. Wide adds
// the columns hidden by default.
type Tabular interface {
	Table(wide bool) *Table
}

// Printer writes results in one format.
type Printer struct {
	W      io.Writer
	Format Format
	Wide   bool
}

// Print renders data. Table output needs a Tabular value; anything else
// falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(p.W)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		if t, ok := data.(Tabular); ok {
			return t.Table(p.Wide).Render(p.W)
		}
	}
	enc := json.NewEncoder(p.W)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Table is rendered with aligned columns.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row. Empty cells print as "-".
func (t *Table) AddRow(cells ...string) {
	for i, c := range cells {
		if c == "" {
			cells[i] = "-"
		}
	}
	t.Rows = append(t.Rows, cells)
}

// Render writes the table.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
