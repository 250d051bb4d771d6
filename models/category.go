package models

import (
	"context"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
)

const RootCategoryTitle = "Все разделы"

type Category struct {
	tableName  struct{} `pg:"category"`
	CategoryID int      `pg:"category_id,pk"`
	TrackerID  int      `pg:"tracker_id,notnull,use_zero"`
	IsSubforum bool     `pg:"is_subforum,notnull,use_zero"`
	ParentID   *int     `pg:"parent_id"`
	Title      string   `pg:"title,notnull"`
	Skip       bool     `pg:"skip,notnull,use_zero"`
}

// CategoryFill is a category with the number of stored torrents in it.
type CategoryFill struct {
	Category
	Torrents int `pg:"torrents"`
}

// GetCategoryByTrackerID returns category by remote id, nil if absent
func GetCategoryByTrackerID(ctx context.Context, db pg.DBI, trackerID int, isSubforum bool) (*Category, error) {
	c := &Category{}
	err := db.Model(c).
		Context(ctx).
		Where("tracker_id = ? AND is_subforum = ?", trackerID, isSubforum).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get category")
	}
	return c, nil
}

func CreateCategory(ctx context.Context, db pg.DBI, c *Category) error {
	_, err := db.Model(c).
		Context(ctx).
		Returning("category_id").
		Insert()
	if err != nil {
		return errors.Wrap(err, "failed to create category")
	}
	return nil
}

// GetUnderpopulatedSubforums returns not skipped subforums holding less
// than minCount torrents, emptiest first
func GetUnderpopulatedSubforums(ctx context.Context, db pg.DBI, minCount int) ([]CategoryFill, error) {
	var res []CategoryFill
	_, err := db.QueryContext(ctx, &res, `
		SELECT c.*, count(tr.topic_id) AS torrents
		FROM category c
		LEFT JOIN topic t ON t.category_id = c.category_id
		LEFT JOIN torrent tr ON tr.topic_id = t.topic_id
		WHERE c.is_subforum AND NOT c.skip
		GROUP BY c.category_id
		HAVING count(tr.topic_id) < ?
		ORDER BY torrents, c.category_id
	`, minCount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underpopulated categories")
	}
	return res, nil
}

func SetCategorySkip(ctx context.Context, db pg.DBI, id int, skip bool) error {
	_, err := db.Model(&Category{}).
		Context(ctx).
		Set("skip = ?", skip).
		Where("category_id = ?", id).
		Update()
	if err != nil {
		return errors.Wrap(err, "failed to update category")
	}
	return nil
}

func CountCategories(ctx context.Context, db pg.DBI) (int, error) {
	n, err := db.Model(&Category{}).Context(ctx).Count()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count categories")
	}
	return n, nil
}

func CountCategoriesWithTorrents(ctx context.Context, db pg.DBI) (int, error) {
	var n int
	_, err := db.QueryOneContext(ctx, pg.Scan(&n), `
		SELECT count(DISTINCT t.category_id)
		FROM topic t
		JOIN torrent tr ON tr.topic_id = t.topic_id
	`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count categories with torrents")
	}
	return n, nil
}
