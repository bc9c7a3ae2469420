package output

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"
)

type transferSummary struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type" yaml:"type"`
	Count int    `json:"count" yaml:"count"`
}

type summaries []transferSummary

func (s summaries) Table(bool) *Table {
	t := &Table{Headers: []string{"NAME", "TYPE", "COUNT"}}
	for _, r := range s {
		count := ""
		if r.Count > 0 {
			count = strconv.Itoa(r.Count)
		}
		t.AddRow(r.Name, r.Type, count)
	}
	return t
}

func TestPrinter_Golden(t *testing.T) {
	rows := summaries{
		{Name: "alpha", Type: "log", Count: 3},
		{Name: "b", Type: "journal", Count: 12},
		{Name: "gamma", Type: "audit"},
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, f := range []Format{FormatTable, FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			p := &Printer{W: &buf, Format: f}
			var data any = rows
			if f != FormatTable {
				data = rows[0]
			}
			if err := p.Print(data); err != nil {
				t.Fatalf("Print() error = %v", err)
			}
			g.Assert(t, "printer_"+string(f), buf.Bytes())
		})
	}
}
