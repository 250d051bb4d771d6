package models

import (
	"context"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
)

type Torrent struct {
	tableName    struct{}  `pg:"torrent"`
	TopicID      int       `pg:"topic_id,pk"`
	Infohash     string    `pg:"infohash,notnull"`
	Size         int64     `pg:"size,notnull,use_zero"`
	TFSize       int       `pg:"tfsize,notnull,use_zero"`
	DownloadedAt time.Time `pg:"downloaded_at,notnull,default:now()"`
}

func GetTorrentByInfohash(ctx context.Context, db pg.DBI, infohash string) (*Torrent, error) {
	t := &Torrent{}
	err := db.Model(t).
		Context(ctx).
		Where("infohash = ?", infohash).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get torrent")
	}
	return t, nil
}

func UpsertTorrent(ctx context.Context, db pg.DBI, t *Torrent) error {
	_, err := db.Model(t).
		Context(ctx).
		OnConflict("(topic_id) DO UPDATE").
		Set("infohash = EXCLUDED.infohash").
		Set("size = EXCLUDED.size").
		Set("tfsize = EXCLUDED.tfsize").
		Set("downloaded_at = EXCLUDED.downloaded_at").
		Insert()
	if err != nil {
		return errors.Wrap(err, "failed to upsert torrent")
	}
	return nil
}

// CountTorrentsDownloaded counts torrents downloaded in [from, to)
func CountTorrentsDownloaded(ctx context.Context, db pg.DBI, from time.Time, to time.Time) (int, error) {
	n, err := db.Model(&Torrent{}).
		Context(ctx).
		Where("downloaded_at >= ? AND downloaded_at < ?", from, to).
		Count()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count downloaded torrents")
	}
	return n, nil
}

type TorrentTotals struct {
	Count  int   `pg:"count"`
	TFSize int64 `pg:"tfsize"`
	Size   int64 `pg:"size"`
}

func GetTorrentTotals(ctx context.Context, db pg.DBI) (*TorrentTotals, error) {
	res := &TorrentTotals{}
	_, err := db.QueryOneContext(ctx, res, `
		SELECT count(*) AS count, coalesce(sum(tfsize), 0) AS tfsize, coalesce(sum(size), 0) AS size
		FROM torrent
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get torrent totals")
	}
	return res, nil
}

// GetTorrentsBeyondRetention returns topic ids of torrents ranked after
// keep most recently updated ones within their category
func GetTorrentsBeyondRetention(ctx context.Context, db pg.DBI, keep int) ([]int, error) {
	var ids []int
	_, err := db.QueryContext(ctx, &ids, `
		SELECT topic_id FROM (
			SELECT tr.topic_id, row_number() OVER (
				PARTITION BY t.category_id ORDER BY t.updated_at DESC, t.topic_id DESC
			) AS rn
			FROM torrent tr
			JOIN topic t ON t.topic_id = tr.topic_id
		) ranked
		WHERE rn > ?
	`, keep)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get torrents beyond retention")
	}
	return ids, nil
}

func DeleteTorrents(ctx context.Context, db pg.DBI, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Model(&Torrent{}).
		Context(ctx).
		Where("topic_id IN (?)", pg.In(ids)).
		Delete()
	if err != nil {
		return errors.Wrap(err, "failed to delete torrents")
	}
	return nil
}
