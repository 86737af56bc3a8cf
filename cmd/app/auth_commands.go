package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/offline-sync/cmd/app/commands"
)

func getAuthCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "login",
			Usage: "Store the sync account's tokens, encrypted by the secrets keeper",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "access-token",
					Aliases:  []string{"a"},
					Required: true,
					Usage:    "Bearer token for the sync backend",
					Sources:  cli.EnvVars("SYNC_ACCESS_TOKEN"),
				},
				&cli.StringFlag{
					Name:    "refresh-token",
					Aliases: []string{"r"},
					Usage:   "Refresh token used to renew an expired access token",
					Sources: cli.EnvVars("SYNC_REFRESH_TOKEN"),
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container, err := openContainer()
				if err != nil {
					return err
				}
				defer commands.CloseContainer(container, container.Logger())

				vault, err := container.TokenVault()
				if err != nil {
					return err
				}

				return commands.RunLogin(
					ctx,
					vault,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("access-token"),
					cmd.String("refresh-token"),
				)
			},
		},
		{
			Name:  "logout",
			Usage: "Remove the stored tokens",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container, err := openContainer()
				if err != nil {
					return err
				}
				defer commands.CloseContainer(container, container.Logger())

				vault, err := container.TokenVault()
				if err != nil {
					return err
				}

				return commands.RunLogout(ctx, vault, container.Logger(), commands.DefaultIO().Writer)
			},
		},
	}
}
