package main

import (
	"github.com/urfave/cli"
)

func configure(app *cli.App) {
	runCMD := makeRunCMD()
	migrationCMD := makePGMigrationCMD()
	app.Commands = []cli.Command{runCMD, migrationCMD}
	app.Commands = append(app.Commands, makeTaskCMDs()...)
	app.Commands = append(app.Commands, makeImportCMDs()...)
}
