package manager

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/rtrss/worker/models"
)

type Stats struct {
	Topics                 int
	Torrents               int
	TorrentFilesSize       int64
	PayloadSize            int64
	Categories             int
	CategoriesWithTorrents int
	// SlotsTotal is -1 when some account has no download limit.
	SlotsTotal int
	SlotsUsed  int
}

func (s *Stats) addAccounts(accounts []models.Account) {
	for _, a := range accounts {
		s.SlotsUsed += a.DownloadsToday
		if s.SlotsTotal < 0 {
			continue
		}
		if a.DownloadsLimit == nil {
			s.SlotsTotal = -1
			continue
		}
		s.SlotsTotal += *a.DownloadsLimit
	}
}

func (s *Stats) Write(w io.Writer) error {
	total := "unlimited"
	if s.SlotsTotal >= 0 {
		total = humanize.Comma(int64(s.SlotsTotal))
	}
	_, err := fmt.Fprintf(w,
		"topics: %s\ntorrents: %s\ntorrent files: %s\npayload: %s\ncategories: %s (%s with torrents)\ndownload slots: %s used of %s\n",
		humanize.Comma(int64(s.Topics)),
		humanize.Comma(int64(s.Torrents)),
		humanize.IBytes(uint64(s.TorrentFilesSize)),
		humanize.IBytes(uint64(s.PayloadSize)),
		humanize.Comma(int64(s.Categories)),
		humanize.Comma(int64(s.CategoriesWithTorrents)),
		humanize.Comma(int64(s.SlotsUsed)),
		total,
	)
	return err
}

func (s *Manager) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}
