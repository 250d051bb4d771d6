package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rtrss/worker/models"
)

// memStore is an in-memory catalog. Transactions work on the live maps and
// restore a snapshot on error.
type memStore struct {
	mu         sync.Mutex
	categories map[int]models.Category
	nextCat    int
	topics     map[int]models.Topic
	torrents   map[int]models.Torrent
	accounts   map[int]models.Account
	writes     int
}

func newMemStore() *memStore {
	return &memStore{
		categories: map[int]models.Category{},
		nextCat:    1,
		topics:     map[int]models.Topic{},
		torrents:   map[int]models.Torrent{},
		accounts:   map[int]models.Account{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	res := make(map[K]V, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

func (s *memStore) addRoot() int {
	return s.addCategory(0, false, nil, models.RootCategoryTitle)
}

func (s *memStore) addCategory(trackerID int, isSubforum bool, parent *int, title string) int {
	id := s.nextCat
	s.nextCat++
	s.categories[id] = models.Category{
		CategoryID: id,
		TrackerID:  trackerID,
		IsSubforum: isSubforum,
		ParentID:   parent,
		Title:      title,
	}
	return id
}

func (s *memStore) addAccount(id int, limit *int, today int) {
	s.accounts[id] = models.Account{
		AccountID:      id,
		Enabled:        true,
		DownloadsLimit: limit,
		DownloadsToday: today,
		Username:       "user",
		Password:       "secret",
	}
}

func (s *memStore) StoredTopics(_ context.Context, ids []int) (map[int]*string, error) {
	res := map[int]*string{}
	for _, id := range ids {
		if _, ok := s.topics[id]; !ok {
			continue
		}
		if t, ok := s.torrents[id]; ok {
			ih := t.Infohash
			res[id] = &ih
		} else {
			res[id] = nil
		}
	}
	return res, nil
}

func (s *memStore) TorrentByInfohash(_ context.Context, infohash string) (*models.Torrent, error) {
	for _, t := range s.torrents {
		if t.Infohash == infohash {
			tt := t
			return &tt, nil
		}
	}
	return nil, nil
}

func (s *memStore) EnabledAccounts(_ context.Context) ([]models.Account, error) {
	var res []models.Account
	for _, a := range s.accounts {
		if a.Enabled {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AccountID < res[j].AccountID })
	return res, nil
}

func (s *memStore) CreateAccount(_ context.Context, a *models.Account) (bool, error) {
	if _, ok := s.accounts[a.AccountID]; ok {
		return false, nil
	}
	s.writes++
	s.accounts[a.AccountID] = *a
	return true, nil
}

func (s *memStore) IncrementDownloads(_ context.Context, id int) error {
	s.writes++
	a := s.accounts[id]
	a.DownloadsToday++
	s.accounts[id] = a
	return nil
}

func (s *memStore) ExhaustAccount(_ context.Context, id int) error {
	a := s.accounts[id]
	if a.DownloadsLimit == nil {
		return nil
	}
	s.writes++
	a.DownloadsToday = *a.DownloadsLimit
	s.accounts[id] = a
	return nil
}

func (s *memStore) ResetDownloads(_ context.Context) (int, error) {
	for id, a := range s.accounts {
		s.writes++
		a.DownloadsToday = 0
		s.accounts[id] = a
	}
	return len(s.accounts), nil
}

func (s *memStore) CountDownloaded(_ context.Context, from time.Time, to time.Time) (int, error) {
	n := 0
	for _, t := range s.torrents {
		if !t.DownloadedAt.Before(from) && t.DownloadedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) torrentsIn(categoryID int) int {
	n := 0
	for id := range s.torrents {
		if c := s.topics[id].CategoryID; c != nil && *c == categoryID {
			n++
		}
	}
	return n
}

func (s *memStore) UnderpopulatedSubforums(_ context.Context, minCount int) ([]models.CategoryFill, error) {
	var res []models.CategoryFill
	for _, c := range s.categories {
		if !c.IsSubforum || c.Skip {
			continue
		}
		if n := s.torrentsIn(c.CategoryID); n < minCount {
			res = append(res, models.CategoryFill{Category: c, Torrents: n})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Torrents != res[j].Torrents {
			return res[i].Torrents < res[j].Torrents
		}
		return res[i].CategoryID < res[j].CategoryID
	})
	return res, nil
}

func (s *memStore) SetCategorySkip(_ context.Context, id int, skip bool) error {
	s.writes++
	c := s.categories[id]
	c.Skip = skip
	s.categories[id] = c
	return nil
}

func (s *memStore) TorrentsBeyondRetention(_ context.Context, keep int) ([]int, error) {
	byCat := map[int][]models.Topic{}
	for id := range s.torrents {
		t := s.topics[id]
		c := 0
		if t.CategoryID != nil {
			c = *t.CategoryID
		}
		byCat[c] = append(byCat[c], t)
	}
	var res []int
	for _, ts := range byCat {
		sort.Slice(ts, func(i, j int) bool {
			if !ts[i].UpdatedAt.Equal(ts[j].UpdatedAt) {
				return ts[i].UpdatedAt.After(ts[j].UpdatedAt)
			}
			return ts[i].TopicID > ts[j].TopicID
		})
		for i := keep; i < len(ts); i++ {
			res = append(res, ts[i].TopicID)
		}
	}
	sort.Ints(res)
	return res, nil
}

func (s *memStore) DeleteTorrents(_ context.Context, ids []int) error {
	for _, id := range ids {
		s.writes++
		delete(s.torrents, id)
	}
	return nil
}

func (s *memStore) Stats(_ context.Context) (*Stats, error) {
	st := &Stats{
		Topics:     len(s.topics),
		Torrents:   len(s.torrents),
		Categories: len(s.categories),
	}
	cats := map[int]bool{}
	for id, t := range s.torrents {
		st.TorrentFilesSize += int64(t.TFSize)
		st.PayloadSize += t.Size
		if c := s.topics[id].CategoryID; c != nil {
			cats[*c] = true
		}
	}
	st.CategoriesWithTorrents = len(cats)
	accounts, _ := s.EnabledAccounts(context.Background())
	st.addAccounts(accounts)
	return st, nil
}

func (s *memStore) Tx(_ context.Context, fn func(tx storeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	categories, topics, torrents := copyMap(s.categories), copyMap(s.topics), copyMap(s.torrents)
	nextCat, writes := s.nextCat, s.writes
	if err := fn(&memTx{s: s}); err != nil {
		s.categories, s.topics, s.torrents = categories, topics, torrents
		s.nextCat, s.writes = nextCat, writes
		return err
	}
	return nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) CategoryByTrackerID(_ context.Context, trackerID int, isSubforum bool) (*models.Category, error) {
	for _, c := range t.s.categories {
		if c.TrackerID == trackerID && c.IsSubforum == isSubforum {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateCategory(ctx context.Context, c *models.Category) error {
	if ex, _ := t.CategoryByTrackerID(ctx, c.TrackerID, c.IsSubforum); ex != nil {
		return errors.New("duplicate category")
	}
	if c.ParentID != nil {
		if _, ok := t.s.categories[*c.ParentID]; !ok {
			return errors.New("parent category does not exist")
		}
	}
	t.s.writes++
	c.CategoryID = t.s.nextCat
	t.s.nextCat++
	t.s.categories[c.CategoryID] = *c
	return nil
}

func (t *memTx) UpsertTopic(_ context.Context, topic *models.Topic) error {
	t.s.writes++
	t.s.topics[topic.TopicID] = *topic
	return nil
}

func (t *memTx) TorrentByInfohash(ctx context.Context, infohash string) (*models.Torrent, error) {
	return t.s.TorrentByInfohash(ctx, infohash)
}

func (t *memTx) UpsertTorrent(_ context.Context, tr *models.Torrent) error {
	if _, ok := t.s.topics[tr.TopicID]; !ok {
		return errors.New("topic does not exist")
	}
	for id, ex := range t.s.torrents {
		if ex.Infohash == tr.Infohash && id != tr.TopicID {
			return errors.New("duplicate infohash")
		}
	}
	t.s.writes++
	t.s.torrents[tr.TopicID] = *tr
	return nil
}
