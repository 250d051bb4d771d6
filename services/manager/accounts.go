package manager

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
	"github.com/rtrss/worker/services/scraper"
	log "github.com/sirupsen/logrus"
)

// SelectAccount picks a random enabled account, optionally one with daily
// quota left.
func (s *Manager) SelectAccount(ctx context.Context, requireQuota bool) (*models.Account, error) {
	return s.selectAccount(ctx, s.newRun("select"), requireQuota)
}

func (s *Manager) selectAccount(ctx context.Context, r *run, requireQuota bool) (*models.Account, error) {
	accounts, err := s.store.EnabledAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var pool []*models.Account
	for i := range accounts {
		a := &accounts[i]
		if !a.Enabled || r.excluded[a.AccountID] {
			continue
		}
		if requireQuota && (r.exhausted[a.AccountID] || !a.HasQuota()) {
			continue
		}
		pool = append(pool, a)
	}
	if len(pool) == 0 {
		return nil, errs.New(errs.NoAccounts, "no suitable accounts")
	}
	return pool[s.pick(len(pool))], nil
}

func (s *Manager) scraperFor(r *run, a *models.Account) Scraper {
	if sc, ok := r.scrapers[a.AccountID]; ok {
		return sc
	}
	sc := s.newScraper(a)
	r.scrapers[a.AccountID] = sc
	return sc
}

// withPageScraper runs fn on behalf of the run page account. Accounts
// failing to authenticate are excluded and replaced.
func (s *Manager) withPageScraper(ctx context.Context, r *run, fn func(sc Scraper) error) error {
	var err error
	for i := 0; i < s.attempts(); i++ {
		if r.page == nil {
			r.page, err = s.selectAccount(ctx, r, false)
			if err != nil {
				return err
			}
		}
		err = fn(s.scraperFor(r, r.page))
		if !errs.Is(err, errs.Captcha) && !errs.Is(err, errs.Auth) {
			return err
		}
		r.log.WithError(err).WithField("account", r.page.AccountID).Warn("account excluded")
		r.exclude(r.page.AccountID)
	}
	return err
}

func (s *Manager) attempts() int {
	if s.cfg.DownloadAttempts < 1 {
		return 1
	}
	return s.cfg.DownloadAttempts
}

// download fetches the torrent rotating accounts on quota, sign in and
// fetch failures.
func (s *Manager) download(ctx context.Context, r *run, topicID int) (*scraper.Torrent, error) {
	var lastErr error
	for i := 0; i < s.attempts(); i++ {
		a, err := s.selectAccount(ctx, r, true)
		if err != nil {
			if lastErr != nil && errs.Is(err, errs.NoAccounts) {
				break
			}
			return nil, err
		}
		l := r.log.WithField("topic", topicID).WithField("account", a.AccountID)
		t, err := s.scraperFor(r, a).Torrent(ctx, topicID)
		switch {
		case err == nil:
			if err := s.store.IncrementDownloads(ctx, a.AccountID); err != nil {
				l.WithError(err).Warn("failed to count download")
			}
			return t, nil
		case errs.Is(err, errs.Quota):
			l.Info("download limit reached")
			r.exhausted[a.AccountID] = true
			if err := s.store.ExhaustAccount(ctx, a.AccountID); err != nil {
				l.WithError(err).Warn("failed to exhaust account")
			}
		case errs.Is(err, errs.Captcha), errs.Is(err, errs.Auth),
			errs.Is(err, errs.Transport), errs.Is(err, errs.Unprocessable):
			l.WithError(err).Warn("account excluded")
			r.exclude(a.AccountID)
		default:
			return nil, err
		}
		lastErr = err
	}
	err := errors.Wrapf(lastErr, "download attempts exhausted for topic %d", topicID)
	if errs.Aborts(lastErr) {
		// failed fetches cost the topic only
		return nil, &errs.Error{Kind: errs.Unprocessable, Err: err}
	}
	return nil, err
}

// EstimateFreeDownloadSlots returns how many torrents may be downloaded
// today without starving the regular updates.
func (s *Manager) EstimateFreeDownloadSlots(ctx context.Context, days int) (int, error) {
	if days < 1 {
		days = 1
	}
	accounts, err := s.store.EnabledAccounts(ctx)
	if err != nil {
		return 0, err
	}
	unlimited := false
	capacity, remaining := 0, 0
	for _, a := range accounts {
		if a.DownloadsLimit == nil {
			unlimited = true
			continue
		}
		capacity += *a.DownloadsLimit
		remaining += max(*a.DownloadsLimit-a.DownloadsToday, 0)
	}
	now := s.now().In(s.cfg.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
	recent, err := s.store.CountDownloaded(ctx, today.AddDate(0, 0, -days), today)
	if err != nil {
		return 0, err
	}
	avg := float64(recent) / float64(days)
	limit := float64(s.cfg.MaxDownloadSlots)
	est := limit
	if !unlimited {
		est = math.Min(float64(capacity)-avg, float64(remaining))
	}
	est = math.Max(math.Min(est, limit), 0)
	res := int(math.Floor(est * slotsSafetyMargin))
	log.WithFields(log.Fields{
		"capacity":  capacity,
		"remaining": remaining,
		"average":   avg,
		"unlimited": unlimited,
		"slots":     res,
	}).Debug("download slots estimated")
	return res, nil
}

// DailyReset zeroes daily download counters of all accounts.
func (s *Manager) DailyReset(ctx context.Context) error {
	n, err := s.store.ResetDownloads(ctx)
	if err != nil {
		return err
	}
	log.WithField("accounts", n).Info("daily reset finished")
	return nil
}

// ImportAccounts reads id,username,password[,downloads_limit] records.
// Known accounts are left untouched.
func (s *Manager) ImportAccounts(ctx context.Context, rd io.Reader) (int, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	imported := 0
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return imported, errors.Wrap(err, "failed to read accounts")
		}
		line++
		a, err := parseAccount(rec)
		if err != nil {
			if line == 1 {
				continue
			}
			return imported, errors.Wrapf(err, "bad account record on line %d", line)
		}
		ok, err := s.store.CreateAccount(ctx, a)
		if err != nil {
			return imported, err
		}
		if ok {
			imported++
		}
	}
	log.WithField("imported", imported).Info("accounts imported")
	return imported, nil
}

func parseAccount(rec []string) (*models.Account, error) {
	if len(rec) < 3 {
		return nil, errors.Errorf("expected at least 3 fields, got %d", len(rec))
	}
	id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
	if err != nil {
		return nil, errors.Wrap(err, "bad account id")
	}
	a := &models.Account{
		AccountID: id,
		Enabled:   true,
		Username:  strings.TrimSpace(rec[1]),
		Password:  rec[2],
		Cookies:   map[string]string{},
	}
	if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
		l, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, errors.Wrap(err, "bad downloads limit")
		}
		a.DownloadsLimit = &l
	}
	return a, nil
}
