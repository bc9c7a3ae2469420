package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/cli/output"
	"github.com/yndnr/jalsync-go/internal/server/adminrpc"
)

// LedgerCommand returns the ledger subcommand group.
func LedgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Inspect digest ledgers",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show pending digests of running sessions and persisted ones",
				Action: ledgerStats,
			},
		},
	}
}

type ledgerView struct {
	Running   int            `json:"running_sessions" yaml:"running_sessions"`
	Pending   int            `json:"pending" yaml:"pending"`
	InFlight  int            `json:"in_flight" yaml:"in_flight"`
	Persisted map[string]int `json:"persisted,omitempty" yaml:"persisted,omitempty"`
}

func newLedgerView(r adminrpc.LedgerReport) ledgerView {
	return ledgerView{Running: r.Running, Pending: r.Pending, InFlight: r.InFlight, Persisted: r.Persisted}
}

func (v ledgerView) persistedTotal() int {
	n := 0
	for _, c := range v.Persisted {
		n += c
	}
	return n
}

// Table implements output.Tabular. Wide lists every persisted key.
func (v ledgerView) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"METRIC", "VALUE"}}
	t.AddRow("running sessions", strconv.Itoa(v.Running))
	t.AddRow("pending", strconv.Itoa(v.Pending))
	t.AddRow("in flight", strconv.Itoa(v.InFlight))
	t.AddRow("persisted", strconv.Itoa(v.persistedTotal()))
	if wide {
		keys := make([]string, 0, len(v.Persisted))
		for k := range v.Persisted {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.AddRow("persisted["+k+"]", strconv.Itoa(v.Persisted[k]))
		}
	}
	return t
}

func ledgerStats(c *cli.Context) error {
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	p, err := g.Printer(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, g.Timeout)
	defer cancel()
	report, err := g.AdminClient().LedgerStats(ctx)
	if err != nil {
		return fmt.Errorf("ledger stats: %w", err)
	}
	return p.Print(newLedgerView(report))
}
