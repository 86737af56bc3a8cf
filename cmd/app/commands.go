package main

import (
	"github.com/urfave/cli/v3"

	"github.com/allisson/offline-sync/cmd/app/commands"
	"github.com/allisson/offline-sync/internal/app"
	"github.com/allisson/offline-sync/internal/config"
)

func getCommands(version string) []*cli.Command {
	cmds := []*cli.Command{}
	cmds = append(cmds, getSystemCommands(version)...)
	cmds = append(cmds, getSyncCommands()...)
	cmds = append(cmds, getAuthCommands()...)
	return cmds
}

// openContainer loads configuration and brings the schema up to date.
func openContainer() (*app.Container, error) {
	container := app.NewContainer(config.Load())
	if err := container.Migrate(); err != nil {
		commands.CloseContainer(container, container.Logger())
		return nil, err
	}
	return container, nil
}

func domainFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "domain",
		Aliases: []string{"d"},
		Usage:   "Domain name (omit for every enabled domain)",
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}
