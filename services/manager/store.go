package manager

import (
	"context"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
)

type store interface {
	// StoredTopics maps known topic ids to their torrent infohash, nil if
	// the topic has no torrent.
	StoredTopics(ctx context.Context, ids []int) (map[int]*string, error)
	TorrentByInfohash(ctx context.Context, infohash string) (*models.Torrent, error)
	EnabledAccounts(ctx context.Context) ([]models.Account, error)
	CreateAccount(ctx context.Context, a *models.Account) (bool, error)
	IncrementDownloads(ctx context.Context, id int) error
	ExhaustAccount(ctx context.Context, id int) error
	ResetDownloads(ctx context.Context) (int, error)
	CountDownloaded(ctx context.Context, from time.Time, to time.Time) (int, error)
	UnderpopulatedSubforums(ctx context.Context, minCount int) ([]models.CategoryFill, error)
	SetCategorySkip(ctx context.Context, id int, skip bool) error
	TorrentsBeyondRetention(ctx context.Context, keep int) ([]int, error)
	DeleteTorrents(ctx context.Context, ids []int) error
	Stats(ctx context.Context) (*Stats, error)
	Tx(ctx context.Context, fn func(tx storeTx) error) error
}

type storeTx interface {
	CategoryByTrackerID(ctx context.Context, trackerID int, isSubforum bool) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	UpsertTopic(ctx context.Context, t *models.Topic) error
	TorrentByInfohash(ctx context.Context, infohash string) (*models.Torrent, error)
	UpsertTorrent(ctx context.Context, t *models.Torrent) error
}

type pgStore struct {
	db *pg.DB
}

func catalogErr(err error, msg string) error {
	return errs.Wrap(errs.Catalog, err, msg)
}

func (s *pgStore) StoredTopics(ctx context.Context, ids []int) (map[int]*string, error) {
	rows, err := models.GetStoredTopics(ctx, s.db, ids)
	if err != nil {
		return nil, catalogErr(err, "failed to load topics")
	}
	res := make(map[int]*string, len(rows))
	for _, r := range rows {
		res[r.TopicID] = r.Infohash
	}
	return res, nil
}

func (s *pgStore) TorrentByInfohash(ctx context.Context, infohash string) (*models.Torrent, error) {
	t, err := models.GetTorrentByInfohash(ctx, s.db, infohash)
	return t, catalogErr(err, "failed to load torrent")
}

func (s *pgStore) EnabledAccounts(ctx context.Context) ([]models.Account, error) {
	a, err := models.GetEnabledAccounts(ctx, s.db)
	return a, catalogErr(err, "failed to load accounts")
}

func (s *pgStore) CreateAccount(ctx context.Context, a *models.Account) (bool, error) {
	ok, err := models.CreateAccount(ctx, s.db, a)
	return ok, catalogErr(err, "failed to import account")
}

func (s *pgStore) IncrementDownloads(ctx context.Context, id int) error {
	return catalogErr(models.IncrementAccountDownloads(ctx, s.db, id), "failed to count download")
}

func (s *pgStore) ExhaustAccount(ctx context.Context, id int) error {
	return catalogErr(models.ExhaustAccount(ctx, s.db, id), "failed to exhaust account")
}

func (s *pgStore) ResetDownloads(ctx context.Context) (int, error) {
	n, err := models.ResetAccountDownloads(ctx, s.db)
	return n, catalogErr(err, "failed to reset downloads")
}

func (s *pgStore) CountDownloaded(ctx context.Context, from time.Time, to time.Time) (int, error) {
	n, err := models.CountTorrentsDownloaded(ctx, s.db, from, to)
	return n, catalogErr(err, "failed to count downloads")
}

func (s *pgStore) UnderpopulatedSubforums(ctx context.Context, minCount int) ([]models.CategoryFill, error) {
	c, err := models.GetUnderpopulatedSubforums(ctx, s.db, minCount)
	return c, catalogErr(err, "failed to load categories")
}

func (s *pgStore) SetCategorySkip(ctx context.Context, id int, skip bool) error {
	return catalogErr(models.SetCategorySkip(ctx, s.db, id, skip), "failed to mark category")
}

func (s *pgStore) TorrentsBeyondRetention(ctx context.Context, keep int) ([]int, error) {
	ids, err := models.GetTorrentsBeyondRetention(ctx, s.db, keep)
	return ids, catalogErr(err, "failed to select expired torrents")
}

func (s *pgStore) DeleteTorrents(ctx context.Context, ids []int) error {
	return catalogErr(models.DeleteTorrents(ctx, s.db, ids), "failed to delete torrents")
}

func (s *pgStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var err error
	if st.Topics, err = models.CountTopics(ctx, s.db); err != nil {
		return nil, catalogErr(err, "failed to collect stats")
	}
	tt, err := models.GetTorrentTotals(ctx, s.db)
	if err != nil {
		return nil, catalogErr(err, "failed to collect stats")
	}
	st.Torrents = tt.Count
	st.TorrentFilesSize = tt.TFSize
	st.PayloadSize = tt.Size
	if st.Categories, err = models.CountCategories(ctx, s.db); err != nil {
		return nil, catalogErr(err, "failed to collect stats")
	}
	if st.CategoriesWithTorrents, err = models.CountCategoriesWithTorrents(ctx, s.db); err != nil {
		return nil, catalogErr(err, "failed to collect stats")
	}
	accounts, err := models.GetEnabledAccounts(ctx, s.db)
	if err != nil {
		return nil, catalogErr(err, "failed to collect stats")
	}
	st.addAccounts(accounts)
	return st, nil
}

func (s *pgStore) Tx(ctx context.Context, fn func(tx storeTx) error) error {
	err := s.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(&pgStoreTx{tx: tx})
	})
	return catalogErr(err, "transaction failed")
}

type pgStoreTx struct {
	tx *pg.Tx
}

func (s *pgStoreTx) CategoryByTrackerID(ctx context.Context, trackerID int, isSubforum bool) (*models.Category, error) {
	c, err := models.GetCategoryByTrackerID(ctx, s.tx, trackerID, isSubforum)
	return c, catalogErr(err, "failed to load category")
}

func (s *pgStoreTx) CreateCategory(ctx context.Context, c *models.Category) error {
	return catalogErr(models.CreateCategory(ctx, s.tx, c), "failed to create category")
}

func (s *pgStoreTx) UpsertTopic(ctx context.Context, t *models.Topic) error {
	return catalogErr(models.UpsertTopic(ctx, s.tx, t), "failed to save topic")
}

func (s *pgStoreTx) TorrentByInfohash(ctx context.Context, infohash string) (*models.Torrent, error) {
	t, err := models.GetTorrentByInfohash(ctx, s.tx, infohash)
	return t, catalogErr(err, "failed to load torrent")
}

func (s *pgStoreTx) UpsertTorrent(ctx context.Context, t *models.Torrent) error {
	return catalogErr(models.UpsertTorrent(ctx, s.tx, t), "failed to save torrent")
}
