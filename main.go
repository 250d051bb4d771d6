package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "rtrss-worker"
	app.Usage = "Keeps torrent catalog in sync with the tracker"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "log-level",
			Usage:  "log level",
			Value:  "info",
			EnvVar: "LOG_LEVEL",
		},
	}
	app.Before = func(c *cli.Context) error {
		lvl, err := log.ParseLevel(c.String("log-level"))
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
		return nil
	}
	configure(app)
	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Fatal("failed to run application")
	}
}
