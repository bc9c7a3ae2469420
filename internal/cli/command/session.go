package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/cli/output"
	"github.com/yndnr/jalsync-go/internal/server/adminrpc"
)

// SessionCommand returns the session subcommand group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Inspect and evict server sessions",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered sessions, oldest first",
				Action: sessionList,
			},
			{
				Name:      "evict",
				Usage:     "Stop sessions; the peer is told the session limit was exceeded",
				ArgsUsage: "SESSION_ID...",
				Action:    sessionEvict,
			},
		},
	}
}

// sessionView is the printed form of one session.
type sessionView struct {
	ID             string    `json:"id" yaml:"id"`
	Role           string    `json:"role" yaml:"role"`
	RecordType     string    `json:"record_type" yaml:"record_type"`
	Mode           string    `json:"mode" yaml:"mode"`
	Digest         string    `json:"digest" yaml:"digest"`
	XMLCompression string    `json:"xml_compression" yaml:"xml_compression"`
	Peer           string    `json:"peer" yaml:"peer"`
	Transport      string    `json:"transport" yaml:"transport"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	LastTouched    time.Time `json:"last_touched" yaml:"last_touched"`
	OK             bool      `json:"ok" yaml:"ok"`
}

type sessionTable []sessionView

func newSessionTable(in []adminrpc.SessionInfo) sessionTable {
	out := make(sessionTable, len(in))
	for i, s := range in {
		out[i] = sessionView(s)
	}
	return out
}

// Table implements output.Tabular.
func (l sessionTable) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"ID", "ROLE", "TYPE", "MODE", "PEER", "AGE", "STATUS"}}
	if wide {
		t.Headers = append(t.Headers, "TRANSPORT", "DIGEST", "XML-COMPRESSION", "IDLE")
	}
	now := time.Now()
	for _, s := range l {
		status := "ok"
		if !s.OK {
			status = "errored"
		}
		row := []string{s.ID, s.Role, s.RecordType, s.Mode, s.Peer, age(now, s.CreatedAt), status}
		if wide {
			row = append(row, s.Transport, s.Digest, s.XMLCompression, age(now, s.LastTouched))
		}
		t.AddRow(row...)
	}
	return t
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func sessionList(c *cli.Context) error {
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
	sessions, err := g.AdminClient().ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	return p.Print(newSessionTable(sessions))
}

func sessionEvict(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("session ID required")
	}
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}

	client := g.AdminClient()
	for _, id := range c.Args().Slice() {
		ctx, cancel := context.WithTimeout(c.Context, g.Timeout)
		err := client.EvictSession(ctx, id)
		cancel()
		if err != nil {
			return fmt.Errorf("evict %s: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "evicted %s\n", id)
	}
	return nil
}
