package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/rtrss/worker/services/manager"
)

type task func(ctx context.Context, m *manager.Manager) error

func makeTaskCMD(name string, usage string, t task) cli.Command {
	cmd := cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			return runTask(c, t)
		},
	}
	cmd.Flags = configureWorker(cmd.Flags)
	return cmd
}

func makeTaskCMDs() []cli.Command {
	return []cli.Command{
		makeTaskCMD("update", "Synchronizes catalog with the latest activity feed once",
			func(ctx context.Context, m *manager.Manager) error {
				return m.Update(ctx)
			}),
		makeTaskCMD("populate", "Spends free download slots on underpopulated subforums",
			func(ctx context.Context, m *manager.Manager) error {
				return m.Populate(ctx)
			}),
		makeTaskCMD("daily-reset", "Resets daily download counters of accounts",
			func(ctx context.Context, m *manager.Manager) error {
				return m.DailyReset(ctx)
			}),
		makeTaskCMD("cleanup", "Removes torrents beyond per category retention",
			func(ctx context.Context, m *manager.Manager) error {
				return m.Cleanup(ctx)
			}),
		makeTaskCMD("stats", "Prints catalog statistics",
			func(ctx context.Context, m *manager.Manager) error {
				st, err := m.Stats(ctx)
				if err != nil {
					return err
				}
				return st.Write(os.Stdout)
			}),
	}
}

func runTask(c *cli.Context, t task) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

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

	return t(ctx, w.m)
}
