package manager

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
	"github.com/rtrss/worker/services/scraper"
	"github.com/rtrss/worker/services/storage"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	cs "github.com/webtor-io/common-services"
)

const (
	downloadAttemptsFlag   = "download-attempts"
	populateMinCountFlag   = "populate-min-count"
	cleanupKeepFlag        = "cleanup-keep-per-category"
	estimateDaysFlag       = "estimate-days"
	maxDownloadSlotsFlag   = "max-download-slots"
	trackerTimezoneFlag    = "tracker-timezone"
	torrentContentType     = "application/x-bittorrent"
	slotsSafetyMargin      = 0.9
	defaultTrackerTimezone = "Europe/Moscow"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.IntFlag{
			Name:   downloadAttemptsFlag,
			Usage:  "accounts tried per torrent download",
			Value:  3,
			EnvVar: "DOWNLOAD_ATTEMPTS",
		},
		cli.IntFlag{
			Name:   populateMinCountFlag,
			Usage:  "populate subforums holding less torrents than this",
			Value:  1,
			EnvVar: "POPULATE_MIN_COUNT",
		},
		cli.IntFlag{
			Name:   cleanupKeepFlag,
			Usage:  "torrents kept per category on cleanup, 0 disables cleanup",
			Value:  0,
			EnvVar: "CLEANUP_KEEP_PER_CATEGORY",
		},
		cli.IntFlag{
			Name:   estimateDaysFlag,
			Usage:  "days of download history used to estimate free download slots",
			Value:  7,
			EnvVar: "ESTIMATE_DAYS",
		},
		cli.IntFlag{
			Name:   maxDownloadSlotsFlag,
			Usage:  "upper bound of download slots spent by populate",
			Value:  1000,
			EnvVar: "MAX_DOWNLOAD_SLOTS",
		},
		cli.StringFlag{
			Name:   trackerTimezoneFlag,
			Usage:  "time zone of tracker daily quota reset",
			Value:  defaultTrackerTimezone,
			EnvVar: "TRACKER_TIMEZONE",
		},
	)
}

func Location(c *cli.Context) (*time.Location, error) {
	loc, err := time.LoadLocation(c.String(trackerTimezoneFlag))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tracker time zone")
	}
	return loc, nil
}

// Scraper is the account bound view of the tracker.
type Scraper interface {
	Topic(ctx context.Context, id int) (*scraper.TopicDetail, error)
	Torrent(ctx context.Context, id int) (*scraper.Torrent, error)
	FindTorrents(ctx context.Context, forumID int) ([]scraper.SearchResult, error)
	CategoryIDs(ctx context.Context) ([]int, error)
	ForumCategories(ctx context.Context, forumID int) ([]scraper.CategoryRef, error)
}

type Feed interface {
	LatestTopics(ctx context.Context) ([]scraper.FeedEntry, error)
}

type ScraperFactory func(a *models.Account) Scraper

// Invalidator drops cached feeds of categories touched by a run.
type Invalidator interface {
	Invalidate(ctx context.Context, categoryIDs []int) error
}

type Config struct {
	DownloadAttempts int
	PopulateMinCount int
	CleanupKeep      int
	EstimateDays     int
	MaxDownloadSlots int
	Location         *time.Location
}

func ConfigFromCLI(c *cli.Context) (*Config, error) {
	loc, err := Location(c)
	if err != nil {
		return nil, err
	}
	return &Config{
		DownloadAttempts: c.Int(downloadAttemptsFlag),
		PopulateMinCount: c.Int(populateMinCountFlag),
		CleanupKeep:      c.Int(cleanupKeepFlag),
		EstimateDays:     c.Int(estimateDaysFlag),
		MaxDownloadSlots: c.Int(maxDownloadSlotsFlag),
		Location:         loc,
	}, nil
}

type Manager struct {
	cfg        *Config
	store      store
	storage    storage.Storage
	feed       Feed
	newScraper ScraperFactory
	inv        Invalidator
	now        func() time.Time
	pick       func(n int) int
}

func New(cfg *Config, pg *cs.PG, st storage.Storage, feed Feed, sf ScraperFactory, inv Invalidator) (*Manager, error) {
	db := pg.Get()
	if db == nil {
		return nil, errors.New("database connection not available")
	}
	return newManager(cfg, &pgStore{db: db}, st, feed, sf, inv), nil
}

func newManager(cfg *Config, s store, st storage.Storage, feed Feed, sf ScraperFactory, inv Invalidator) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Manager{
		cfg:        cfg,
		store:      s,
		storage:    st,
		feed:       feed,
		newScraper: sf,
		inv:        inv,
		now:        time.Now,
		pick:       rand.IntN,
	}
}

// PendingTopic is a feed entry that needs processing.
type PendingTopic struct {
	TopicID     int
	Title       string
	UpdatedAt   time.Time
	IsNew       bool
	OldInfohash *string
}

func torrentKey(topicID int) string {
	return strconv.Itoa(topicID) + ".torrent"
}

// BuildPendingList returns feed entries that are unknown or flagged as changed.
func (s *Manager) BuildPendingList(ctx context.Context) ([]PendingTopic, error) {
	entries, err := s.feed.LatestTopics(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.TopicID)
	}
	stored, err := s.store.StoredTopics(ctx, ids)
	if err != nil {
		return nil, err
	}
	var res []PendingTopic
	for _, e := range entries {
		ih, known := stored[e.TopicID]
		if known && !e.Changed {
			continue
		}
		res = append(res, PendingTopic{
			TopicID:     e.TopicID,
			Title:       e.Title,
			UpdatedAt:   e.UpdatedAt,
			IsNew:       !known,
			OldInfohash: ih,
		})
	}
	return res, nil
}

// Update synchronizes catalog with the latest activity feed.
func (s *Manager) Update(ctx context.Context) error {
	r := s.newRun("update")
	items, err := s.BuildPendingList(ctx)
	if errs.Aborts(err) {
		r.log.WithError(err).Warn("update interrupted")
		return nil
	} else if err != nil {
		return errors.Wrap(err, "failed to build pending list")
	}
	r.log.WithField("pending", len(items)).Info("update started")
	added := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		n, err := s.processPendingTopic(ctx, r, item)
		if errs.Aborts(err) {
			r.log.WithError(err).Warn("update interrupted")
			break
		} else if err != nil {
			r.itemFailed(item.TopicID, err)
			continue
		}
		added += n
	}
	s.invalidate(ctx, r)
	r.log.WithField("added", added).Info("update finished")
	return nil
}

// ProcessPendingTopic stores topic, its categories and torrent. Returns 1
// when a torrent was added or replaced.
func (s *Manager) ProcessPendingTopic(ctx context.Context, item PendingTopic) (int, error) {
	r := s.newRun("topic")
	n, err := s.processPendingTopic(ctx, r, item)
	s.invalidate(ctx, r)
	return n, err
}

func (s *Manager) processPendingTopic(ctx context.Context, r *run, item PendingTopic) (int, error) {
	l := r.log.WithField("topic", item.TopicID)
	var detail *scraper.TopicDetail
	err := s.withPageScraper(ctx, r, func(sc Scraper) error {
		var err error
		detail, err = sc.Topic(ctx, item.TopicID)
		return err
	})
	if err != nil {
		return 0, err
	}
	ih := detail.Infohash
	torrentChanged := ih != "" && (item.IsNew || item.OldInfohash == nil || *item.OldInfohash != ih)
	if !item.IsNew && !torrentChanged {
		l.Debug("topic unchanged")
		return 0, nil
	}
	var t *scraper.Torrent
	if torrentChanged {
		dup, err := s.store.TorrentByInfohash(ctx, ih)
		if err != nil {
			return 0, err
		}
		if dup != nil && dup.TopicID != item.TopicID {
			return 0, errs.New(errs.Integrity, "infohash %v already belongs to topic %d", ih, dup.TopicID)
		}
		t, err = s.download(ctx, r, item.TopicID)
		if err != nil {
			return 0, err
		}
		if t.Infohash != ih {
			return 0, errs.New(errs.Integrity, "infohash mismatch: page %v, file %v", ih, t.Infohash)
		}
	}
	var chain []int
	artifactLost := false
	err = s.store.Tx(ctx, func(tx storeTx) error {
		var err error
		chain, err = s.ensureCategory(ctx, tx, detail.Categories)
		if err != nil {
			return err
		}
		topic := &models.Topic{
			TopicID:   item.TopicID,
			Title:     item.Title,
			UpdatedAt: item.UpdatedAt.UTC(),
		}
		if len(chain) > 0 {
			leaf := chain[len(chain)-1]
			topic.CategoryID = &leaf
		} else {
			l.Warn("topic without category")
		}
		if err := tx.UpsertTopic(ctx, topic); err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		dup, err := tx.TorrentByInfohash(ctx, t.Infohash)
		if err != nil {
			return err
		}
		if dup != nil && dup.TopicID != item.TopicID {
			return errs.New(errs.Integrity, "infohash %v already belongs to topic %d", t.Infohash, dup.TopicID)
		}
		if err := tx.UpsertTorrent(ctx, &models.Torrent{
			TopicID:      item.TopicID,
			Infohash:     t.Infohash,
			Size:         t.Size,
			TFSize:       len(t.Data),
			DownloadedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		if item.OldInfohash == nil {
			return s.storage.Put(ctx, torrentKey(item.TopicID), t.Data, torrentContentType)
		}
		var restored bool
		restored, err = s.replaceArtifact(ctx, l, item.TopicID, t.Data)
		artifactLost = err != nil && !restored
		return err
	})
	if artifactLost {
		if derr := s.store.DeleteTorrents(ctx, []int{item.TopicID}); derr != nil {
			l.WithError(derr).Warn("failed to drop torrent without file")
		} else {
			l.Warn("torrent dropped, its file is gone")
		}
	}
	if err != nil {
		return 0, err
	}
	r.touch(chain)
	if t == nil {
		l.Debug("topic saved without torrent")
		return 0, nil
	}
	l.WithField("infohash", t.Infohash).Info("torrent saved")
	return 1, nil
}

// replaceArtifact swaps the stored torrent file of the topic. When the new
// file cannot be written the previous one is put back; restored reports
// whether the key still holds it.
func (s *Manager) replaceArtifact(ctx context.Context, l *log.Entry, topicID int, data []byte) (restored bool, err error) {
	key := torrentKey(topicID)
	prev, err := s.storage.Get(ctx, key)
	if err != nil {
		return true, err
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		return true, err
	}
	err = s.storage.Put(ctx, key, data, torrentContentType)
	if err == nil {
		return false, nil
	}
	if prev == nil {
		return false, err
	}
	if rerr := s.storage.Put(ctx, key, prev, torrentContentType); rerr != nil {
		l.WithError(rerr).Warn("failed to restore previous torrent file")
		return false, err
	}
	return true, err
}

func (s *Manager) invalidate(ctx context.Context, r *run) {
	if s.inv == nil || len(r.changed) == 0 {
		return
	}
	ids := make([]int, 0, len(r.changed))
	for id := range r.changed {
		ids = append(ids, id)
	}
	if err := s.inv.Invalidate(ctx, ids); err != nil {
		r.log.WithError(err).Warn("failed to invalidate feed cache")
	}
}

type run struct {
	log       *log.Entry
	excluded  map[int]bool
	exhausted map[int]bool
	page      *models.Account
	scrapers  map[int]Scraper
	changed   map[int]struct{}
}

func (s *Manager) newRun(task string) *run {
	return &run{
		log: log.WithFields(log.Fields{
			"task": task,
			"run":  uuid.NewV4().String(),
		}),
		excluded:  map[int]bool{},
		exhausted: map[int]bool{},
		scrapers:  map[int]Scraper{},
		changed:   map[int]struct{}{},
	}
}

func (r *run) exclude(accountID int) {
	r.excluded[accountID] = true
	if r.page != nil && r.page.AccountID == accountID {
		r.page = nil
	}
}

func (r *run) touch(ids []int) {
	for _, id := range ids {
		r.changed[id] = struct{}{}
	}
}

func (r *run) itemFailed(topicID int, err error) {
	l := r.log.WithError(err).WithField("topic", topicID).WithField("kind", errs.KindOf(err))
	if errs.Is(err, errs.Quota) {
		l.Info("topic skipped")
		return
	}
	l.Warn("topic skipped")
}
