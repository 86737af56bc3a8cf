package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/offline-sync/cmd/app/commands"
	"github.com/allisson/offline-sync/internal/app"
	"github.com/allisson/offline-sync/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "run",
			Usage: "Start the sync engine, the local API and the metrics server",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunEngine(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer commands.CloseContainer(container, container.Logger())

				return commands.RunMigrations(container.Logger(), cfg.DBDriver, cfg.DBConnectionString)
			},
		},
	}
}
