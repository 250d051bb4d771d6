package main

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	cs "github.com/webtor-io/common-services"

	"github.com/rtrss/worker/models"
	fc "github.com/rtrss/worker/services/feed_cache"
	"github.com/rtrss/worker/services/manager"
	"github.com/rtrss/worker/services/scraper"
	"github.com/rtrss/worker/services/storage"
	"github.com/rtrss/worker/services/tracker"
)

func configureWorker(f []cli.Flag) []cli.Flag {
	f = cs.RegisterPGFlags(f)
	f = storage.RegisterFlags(f)
	f = tracker.RegisterFlags(f)
	f = scraper.RegisterFlags(f)
	f = manager.RegisterFlags(f)
	f = fc.RegisterFlags(f)
	return f
}

// accountCookies persists tracker sessions of signed in accounts.
type accountCookies struct {
	pg *cs.PG
}

func (s *accountCookies) SaveCookies(ctx context.Context, a *models.Account) error {
	db := s.pg.Get()
	if db == nil {
		return errors.New("db is nil")
	}
	return models.UpdateAccountCookies(ctx, db, a.AccountID, a.Cookies)
}

type worker struct {
	pg *cs.PG
	fc *fc.FeedCache
	m  *manager.Manager
}

func makeWorker(ctx context.Context, c *cli.Context) (*worker, error) {
	// Setting HTTP Client
	cl := http.DefaultClient

	// Setting DB
	pg := cs.NewPG(c)
	w := &worker{pg: pg}

	// Setting Manager config
	cfg, err := manager.ConfigFromCLI(c)
	if err != nil {
		w.Close()
		return nil, err
	}

	// Setting Storage
	st, err := storage.NewFromCLI(ctx, c, cl)
	if err != nil {
		w.Close()
		return nil, err
	}

	// Setting Tracker
	tf, err := tracker.NewFactory(tracker.ConfigFromCLI(c), &accountCookies{pg: pg})
	if err != nil {
		w.Close()
		return nil, err
	}
	param := scraper.PasskeyParam(c)
	sf := func(a *models.Account) manager.Scraper {
		return scraper.New(tf.For(a), param)
	}

	// Setting FeedCache
	var inv manager.Invalidator
	w.fc, err = fc.New(c)
	if err != nil {
		w.Close()
		return nil, err
	}
	if w.fc != nil {
		inv = w.fc
	}

	// Setting Manager
	w.m, err = manager.New(cfg, pg, st, scraper.New(tf.Anonymous(), param), sf, inv)
	if err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (s *worker) Close() {
	if s.fc != nil {
		_ = s.fc.Close()
	}
	s.pg.Close()
}
