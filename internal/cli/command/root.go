package command

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/cli/config"
	"github.com/yndnr/jalsync-go/internal/cli/connection"
	"github.com/yndnr/jalsync-go/internal/cli/output"
	"github.com/yndnr/jalsync-go/internal/infra/buildinfo"
	"github.com/yndnr/jalsync-go/internal/server/adminrpc"
	"github.com/yndnr/jalsync-go/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "jalsync-cli",
		Usage:   "jalsync record transfer and administration tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SessionCommand(),
			LedgerCommand(),
			PublishCommand(),
			SubscribeCommand(),
			VersionCommand(),
		},
	}
	app.Commands = append(app.Commands, ShellCommand(app))
	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "jalsync-server admin address (e.g., localhost:5080)",
			EnvVars: []string{"JALSYNC_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Admin bearer token",
			EnvVars: []string{"JALSYNC_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log protocol activity to stderr",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Admin call timeout",
			Value: connection.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "CLI config file",
			Value: config.DefaultPath(),
		},
	}
}

// GlobalFlags are the global flags merged over the CLI config file.
type GlobalFlags struct {
	Server  string
	Token   string
	Output  string
	Wide    bool
	Verbose bool
	Timeout time.Duration
	TLS     config.TLSConfig
}

// ParseGlobalFlags loads the config file and applies the flags set on
// the command line.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load cli config: %w", err)
	}
	g := &GlobalFlags{
		Server:  cfg.Server,
		Token:   cfg.Token,
		Output:  cfg.Output,
		Wide:    c.Bool("wide"),
		Verbose: c.Bool("verbose"),
		Timeout: c.Duration("timeout"),
		TLS:     cfg.TLS,
	}
	if c.IsSet("server") {
		g.Server = c.String("server")
	}
	if c.IsSet("token") {
		g.Token = c.String("token")
	}
	if c.IsSet("output") {
		g.Output = c.String("output")
	}
	return g, nil
}

// Printer returns the printer for the selected output format.
func (g *GlobalFlags) Printer(c *cli.Context) (*output.Printer, error) {
	f, err := output.ParseFormat(g.Output)
	if err != nil {
		return nil, err
	}
	return &output.Printer{W: c.App.Writer, Format: f, Wide: g.Wide}, nil
}

// AdminClient returns a client for the configured server.
func (g *GlobalFlags) AdminClient() *adminrpc.Client {
	return connection.NewAdminClient(g.Server, g.Token, g.Timeout)
}

// Logger returns a text logger on stderr, at debug level when verbose.
func (g *GlobalFlags) Logger(c *cli.Context) (*slog.Logger, error) {
	level := "warn"
	if g.Verbose {
		level = "debug"
	}
	l, err := logger.New(logger.Config{Level: level, Format: "text", Output: c.App.ErrWriter})
	if err != nil {
		return nil, err
	}
	return l.Slog(), nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
