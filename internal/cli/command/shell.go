package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/cli/repl"
)

// ShellCommand starts the interactive mode. Lines run as app commands with
// the global flags given to shell itself.
func ShellCommand(app *cli.App) *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Start an interactive shell",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "history",
				Usage: "History file",
				Value: repl.DefaultHistoryFile(),
			},
		},
		Action: func(c *cli.Context) error {
			prefix := inheritedFlags(c)
			r := repl.New(repl.Config{
				In:     c.App.Reader,
				Out:    c.App.Writer,
				Prompt: "jalsync> ",
				Exec: func(ctx context.Context, args []string) error {
					if len(args) > 0 && args[0] == "shell" {
						return errors.New("already in shell")
					}
					argv := append([]string{app.Name}, prefix...)
					return app.RunContext(ctx, append(argv, args...))
				},
				Completer: repl.NewCompleter(CommandNames(app)...),
				History:   repl.NewHistory(c.String("history")),
			})
			return r.Run(c.Context)
		},
	}
}

// inheritedFlags returns the global flags set on the command line in
// --name=value form.
func inheritedFlags(c *cli.Context) []string {
	var out []string
	for _, name := range []string{"server", "token", "output", "timeout", "config"} {
		if c.IsSet(name) {
			out = append(out, "--"+name+"="+c.String(name))
		}
	}
	for _, name := range []string{"wide", "verbose"} {
		if c.Bool(name) {
			out = append(out, "--"+name)
		}
	}
	return out
}

// CommandNames lists every command path, e.g. "session" and "session list".
func CommandNames(app *cli.App) []string {
	var names []string
	var walk func(prefix []string, cmds []*cli.Command)
	walk = func(prefix []string, cmds []*cli.Command) {
		for _, cmd := range cmds {
			if cmd.Hidden {
				continue
			}
			path := append(append([]string(nil), prefix...), cmd.Name)
			names = append(names, strings.Join(path, " "))
			walk(path, cmd.Subcommands)
		}
	}
	walk(nil, app.Commands)
	return names
}
