package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	cs "github.com/webtor-io/common-services"

	"github.com/rtrss/worker/services/manager"
	"github.com/rtrss/worker/services/scheduler"
)

func makeRunCMD() cli.Command {
	runCMD := cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Runs scheduled catalog synchronization",
		Action:  run,
	}
	configureRun(&runCMD)
	return runCMD
}

func configureRun(c *cli.Command) {
	c.Flags = configureWorker(c.Flags)
	c.Flags = cs.RegisterProbeFlags(c.Flags)
	c.Flags = scheduler.RegisterFlags(c.Flags)
}

func run(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	// Setting Scheduler config
	scfg, err := scheduler.ConfigFromCLI(c)
	if err != nil {
		return err
	}
	loc, err := manager.Location(c)
	if err != nil {
		return err
	}

	// Setting Worker
	w, err := makeWorker(ctx, c)
	if err != nil {
		return err
	}
	defer w.Close()

	// Setting Migrations
	err = pgMigrate(c)
	if err != nil {
		return err
	}

	var servers []cs.Servable
	// Setting Probe
	probe := cs.NewProbe(c)
	if probe != nil {
		servers = append(servers, probe)
		defer probe.Close()
	}
	if len(servers) > 0 {
		go func() {
			serve := cs.NewServe(servers...)
			if err := serve.Serve(); err != nil {
				log.WithError(err).Error("got server error")
			}
		}()
	}

	// Setting Scheduler
	s := scheduler.New(scfg.Tick,
		scheduler.DailyAt("daily-reset", scfg.DailyResetAt, loc, w.m.DailyReset),
		scheduler.Every("update", scfg.UpdateInterval, w.m.Update).
			SkipWhen(scheduler.NearMidnight(loc, scfg.QuietWindow)),
		scheduler.Every("cleanup", scfg.CleanupInterval, w.m.Cleanup),
		scheduler.DailyAt("populate", scfg.PopulateAt, loc, w.m.Populate),
	)

	// And RUN!
	return s.Run(ctx)
}
