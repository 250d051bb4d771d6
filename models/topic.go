package models

import (
	"context"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
)

type Topic struct {
	tableName  struct{}  `pg:"topic"`
	TopicID    int       `pg:"topic_id,pk"`
	CategoryID *int      `pg:"category_id"`
	Title      string    `pg:"title,notnull"`
	UpdatedAt  time.Time `pg:"updated_at,notnull"`
}

// StoredTopic is a known topic with the infohash of its torrent, if any.
type StoredTopic struct {
	TopicID  int     `pg:"topic_id"`
	Infohash *string `pg:"infohash"`
}

func GetTopic(ctx context.Context, db pg.DBI, id int) (*Topic, error) {
	t := &Topic{}
	err := db.Model(t).
		Context(ctx).
		Where("topic_id = ?", id).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get topic")
	}
	return t, nil
}

// GetStoredTopics returns known topics among ids with their infohashes
func GetStoredTopics(ctx context.Context, db pg.DBI, ids []int) ([]StoredTopic, error) {
	var res []StoredTopic
	if len(ids) == 0 {
		return res, nil
	}
	_, err := db.QueryContext(ctx, &res, `
		SELECT t.topic_id, tr.infohash
		FROM topic t
		LEFT JOIN torrent tr ON tr.topic_id = t.topic_id
		WHERE t.topic_id IN (?)
	`, pg.In(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stored topics")
	}
	return res, nil
}

func UpsertTopic(ctx context.Context, db pg.DBI, t *Topic) error {
	_, err := db.Model(t).
		Context(ctx).
		OnConflict("(topic_id) DO UPDATE").
		Set("category_id = EXCLUDED.category_id").
		Set("title = EXCLUDED.title").
		Set("updated_at = EXCLUDED.updated_at").
		Insert()
	if err != nil {
		return errors.Wrap(err, "failed to upsert topic")
	}
	return nil
}

func CountTopics(ctx context.Context, db pg.DBI) (int, error) {
	n, err := db.Model(&Topic{}).Context(ctx).Count()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count topics")
	}
	return n, nil
}
