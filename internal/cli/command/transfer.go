package command

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/cli/connection"
	"github.com/yndnr/jalsync-go/internal/cli/output"
	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/infra/buildinfo"
	"github.com/yndnr/jalsync-go/internal/storage/fsstore"
)

// dialPeer opens the protocol connection; tests replace it.
var dialPeer = connection.DialPeer

// PublishCommand sends records from a directory to a subscriber.
func PublishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Send records from DIR to a subscriber",
		ArgsUsage: "DIR",
		Description: "DIR holds one directory per record type, each with one directory per record\n" +
			"containing sys.xml, app.xml and payload. Live mode keeps watching DIR until interrupted.",
		Flags:  transferFlags(),
		Action: func(c *cli.Context) error { return transfer(c, domain.RolePublisher) },
	}
}

// SubscribeCommand receives records from a publisher into a directory.
func SubscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Receive records from a publisher into DIR",
		ArgsUsage: "DIR",
		Flags:     transferFlags(),
		Action:    func(c *cli.Context) error { return transfer(c, domain.RoleSubscriber) },
	}
}

func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "addr",
			Aliases:  []string{"a"},
			Usage:    "Peer address: host:port for channel, a URL for http",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "transport",
			Usage: "Transport: channel, http",
			Value: "channel",
		},
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "Record type: journal, audit, log",
			Value:   "log",
		},
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Mode: live, archive",
			Value:   "archive",
		},
		&cli.StringFlag{
			Name:  "publisher-id",
			Usage: "Publisher identity announced in the offer",
		},
		&cli.StringSliceFlag{
			Name:  "digest",
			Usage: "Acceptable digest algorithms, preferred first",
		},
	}
}

// transferOptions are the parsed transfer flags.
type transferOptions struct {
	Role        domain.Role
	Kind        domain.TransportKind
	RecordType  domain.RecordType
	Mode        domain.Mode
	Addr        string
	Dir         string
	PublisherID string
	Digests     []string
}

func parseTransferOptions(c *cli.Context, role domain.Role) (*transferOptions, error) {
	if c.NArg() != 1 {
		return nil, errors.New("exactly one DIR argument required")
	}
	o := &transferOptions{
		Role:        role,
		Addr:        c.String("addr"),
		Dir:         c.Args().First(),
		PublisherID: c.String("publisher-id"),
		Digests:     c.StringSlice("digest"),
	}
	var err error
	if o.Kind, err = domain.ParseTransportKind(c.String("transport")); err != nil {
		return nil, err
	}
	if o.RecordType, err = domain.ParseRecordType(c.String("type")); err != nil {
		return nil, err
	}
	if o.Mode, err = domain.ParseMode(c.String("mode")); err != nil {
		return nil, err
	}
	return o, nil
}

func transfer(c *cli.Context, role domain.Role) error {
	o, err := parseTransferOptions(c, role)
	if err != nil {
		return err
	}
	g, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	l, err := g.Logger(c)
	if err != nil {
		return err
	}
	tlsCfg, err := connection.TLSConfig(g.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := newProgress(c.App.ErrWriter, o, !g.Verbose)
	err = runTransfer(ctx, o, tlsCfg, progress, l)
	progress.finish(err)
	return err
}

// runTransfer dials the peer and runs one initiator session.
func runTransfer(ctx context.Context, o *transferOptions, tlsCfg *tls.Config, obs service.Observer, l *slog.Logger) error {
	cfg := service.EngineConfig{Observer: obs, Logger: l}
	switch o.Role {
	case domain.RolePublisher:
		src := fsstore.NewSource(o.Dir, l)
		cfg.Source = src
		if o.Mode == domain.ModeLive {
			go func() {
				if err := src.Watch(ctx); err != nil && ctx.Err() == nil {
					l.Warn("record directory watch stopped", "error", err)
				}
			}()
		}
	case domain.RoleSubscriber:
		sink := fsstore.NewSink(o.Dir, l)
		cfg.Sink = sink
		cfg.Handoff = sink
	}
	engine := service.NewEngine(cfg)

	ncfg := service.DefaultNegotiatorConfig()
	ncfg.Roles = []domain.Role{o.Role}
	ncfg.Agent = buildinfo.Agent()
	ncfg.PublisherID = o.PublisherID
	if len(o.Digests) > 0 {
		ncfg.Digests = o.Digests
	}
	neg := service.NewNegotiator(ncfg, nil, nil, service.WithNegotiatorLogger(l))

	conn, err := dialPeer(ctx, o.Kind, o.Addr, tlsCfg, l)
	if err != nil {
		return fmt.Errorf("connect %s: %w", o.Addr, err)
	}
	return engine.Initiate(ctx, conn, neg, o.Role, o.RecordType, o.Mode)
}

// progress counts engine events and shows them on a spinner.
type progress struct {
	service.NopObserver

	w       io.Writer
	spinner *output.Spinner
	animate bool
	verb    string

	records   atomic.Int64
	bytes     atomic.Int64
	confirmed atomic.Int64
	failed    atomic.Int64
}

func newProgress(w io.Writer, o *transferOptions, animate bool) *progress {
	p := &progress{w: w, animate: animate, verb: "sent"}
	if o.Role == domain.RoleSubscriber {
		p.verb = "received"
	}
	p.spinner = output.NewSpinner(w, fmt.Sprintf("%s %s records with %s", o.Mode, o.RecordType, o.Addr))
	if animate {
		p.spinner.Start()
	}
	return p
}

func (p *progress) RecordSent(_ domain.RecordType, n int64) {
	p.records.Add(1)
	p.bytes.Add(n)
	p.update()
}

func (p *progress) RecordReceived(_ domain.RecordType, result string, n int64) {
	if result != service.ResultOK {
		p.failed.Add(1)
	} else {
		p.records.Add(1)
		p.bytes.Add(n)
	}
	p.update()
}

func (p *progress) DigestOutcome(o domain.DigestOutcome) {
	if o == domain.DigestConfirmed {
		p.confirmed.Add(1)
		return
	}
	p.failed.Add(1)
}

func (p *progress) summary() string {
	return fmt.Sprintf("%d records %s (%d bytes), %d confirmed, %d failed",
		p.records.Load(), p.verb, p.bytes.Load(), p.confirmed.Load(), p.failed.Load())
}

func (p *progress) update() { p.spinner.SetMessage(p.summary()) }

func (p *progress) finish(err error) {
	final := p.summary()
	if err != nil {
		final += ": " + err.Error()
	}
	if !p.animate {
		fmt.Fprintln(p.w, final)
		return
	}
	p.spinner.Stop(final)
}

var _ service.Observer = (*progress)(nil)

