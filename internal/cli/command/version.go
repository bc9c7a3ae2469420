package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/jalsync-go/internal/cli/output"
	"github.com/yndnr/jalsync-go/internal/infra/buildinfo"
)

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			g, err := ParseGlobalFlags(c)
			if err != nil {
				return err
			}
			p, err := g.Printer(c)
			if err != nil {
				return err
			}
			return p.Print(versionView(buildinfo.Get()))
		},
	}
}

type versionView buildinfo.Info

// Table implements output.Tabular.
func (v versionView) Table(bool) *output.Table {
	t := &output.Table{Headers: []string{"VERSION", "COMMIT", "BUILT", "GO"}}
	t.AddRow(v.Version, v.Commit, v.BuildTime, v.GoVersion)
	return t
}
