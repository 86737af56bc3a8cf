package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/offline-sync/cmd/app/commands"
)

func getSyncCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "sync-once",
			Usage: "Run one sync cycle and exit. Do not use while 'run' is active",
			Flags: []cli.Flag{domainFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container, err := openContainer()
				if err != nil {
					return err
				}
				defer commands.CloseContainer(container, container.Logger())

				engine, err := container.Engine()
				if err != nil {
					return err
				}

				return commands.RunSyncOnce(
					ctx,
					engine,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("domain"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "status",
			Usage: "Show queue depth, failures and live channel state per domain",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container, err := openContainer()
				if err != nil {
					return err
				}
				defer commands.CloseContainer(container, container.Logger())

				stores, err := container.Stores()
				if err != nil {
					return err
				}
				if err := commands.EnsureTables(ctx, stores); err != nil {
					return err
				}

				engine, err := container.Engine()
				if err != nil {
					return err
				}

				return commands.RunStatus(ctx, engine, commands.DefaultIO().Writer, cmd.String("format"))
			},
		},
		{
			Name:  "retry-failed",
			Usage: "Move items that failed to sync back to pending",
			Flags: []cli.Flag{domainFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container, err := openContainer()
				if err != nil {
					return err
				}
				defer commands.CloseContainer(container, container.Logger())

				engine, err := container.Engine()
				if err != nil {
					return err
				}

				return commands.RunRetryFailed(
					ctx,
					engine,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("domain"),
					cmd.String("format"),
				)
			},
		},
	}
}
