package migrations

import (
	"github.com/go-pg/migrations/v8"
	"github.com/rtrss/worker/models"
)

// SeedRootCategory creates the all-categories root every breadcrumb starts with.
func SeedRootCategory(col *migrations.Collection) {
	col.MustRegisterTx(func(db migrations.DB) error {
		n, err := db.Model((*models.Category)(nil)).
			Where("tracker_id = 0 AND NOT is_subforum").
			Count()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = db.Model(&models.Category{
			TrackerID: 0,
			Title:     models.RootCategoryTitle,
		}).Insert()
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec("DELETE FROM category WHERE tracker_id = 0 AND NOT is_subforum AND parent_id IS NULL")
		return err
	})
}
