package main

import (
	"context"
	stdlog "log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/ledgerscope/ledgerscope/cmd"
	"github.com/ledgerscope/ledgerscope/pkg/config"
	"github.com/ledgerscope/ledgerscope/pkg/log"
)

func main() {
	app := &cli.Command{
		Name:  "ledgerscope",
		Usage: "Realtime sync client for the ledger service dashboard",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: getDefaultConfigPathOrExit(),
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if c.Bool("debug") {
				log.SetGlobalDebug(true)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			cmd.InitCommand(),
			cmd.SyncCommand(),
			cmd.TailCommand(),
			cmd.ActivityCommand(),
			cmd.AuditCommand(),
			cmd.ExportCommand(),
			cmd.TokenCommand(),
			cmd.StatusCommand(),
			cmd.VersionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		stdlog.Fatal(err)
	}
}

func getDefaultConfigPathOrExit() string {
	path, err := config.GetDefaultConfigPath()
	if err != nil {
		stdlog.Fatalf("Failed to get default config path: %v", err)
	}
	return path
}
