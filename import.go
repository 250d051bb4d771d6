package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/rtrss/worker/services/manager"
)

const accountsFileFlag = "file"

func makeImportCMDs() []cli.Command {
	categoriesCMD := makeTaskCMD("import-categories", "Imports tracker forum tree",
		func(ctx context.Context, m *manager.Manager) error {
			return m.ImportCategories(ctx)
		})
	accountsCMD := cli.Command{
		Name:   "import-accounts",
		Usage:  "Imports tracker accounts from csv (id,username,password[,downloads_limit])",
		Action: importAccounts,
	}
	configureImportAccounts(&accountsCMD)
	return []cli.Command{categoriesCMD, accountsCMD}
}

func configureImportAccounts(c *cli.Command) {
	c.Flags = append(c.Flags,
		cli.StringFlag{
			Name:  accountsFileFlag,
			Usage: "csv file with accounts, stdin if empty or -",
		},
	)
	c.Flags = configureWorker(c.Flags)
}

func importAccounts(c *cli.Context) error {
	var r io.Reader = os.Stdin
	if p := c.String(accountsFileFlag); p != "" && p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return errors.Wrapf(err, "failed to open accounts file %v", p)
		}
		defer f.Close()
		r = f
	}
	return runTask(c, func(ctx context.Context, m *manager.Manager) error {
		_, err := m.ImportAccounts(ctx, r)
		return err
	})
}
