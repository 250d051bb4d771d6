package manager

import (
	"context"

	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
	"github.com/rtrss/worker/services/scraper"
	log "github.com/sirupsen/logrus"
)

// ensureCategory makes sure every breadcrumb element exists. Missing nodes
// are created below the deepest existing one. Returns category ids ordered
// from root to leaf.
func (s *Manager) ensureCategory(ctx context.Context, tx storeTx, refs []scraper.CategoryRef) ([]int, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	ids := make([]int, len(refs))
	deepest := -1
	for i := len(refs) - 1; i >= 0; i-- {
		c, err := tx.CategoryByTrackerID(ctx, refs[i].TrackerID, refs[i].IsSubforum)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		ids[i] = c.CategoryID
		if deepest < 0 {
			deepest = i
		}
	}
	for i := deepest + 1; i < len(refs); i++ {
		ref := refs[i]
		c := &models.Category{
			TrackerID:  ref.TrackerID,
			IsSubforum: ref.IsSubforum,
			Title:      ref.Title,
		}
		if i > 0 {
			parent := ids[i-1]
			c.ParentID = &parent
		} else if ref.TrackerID != 0 {
			return nil, errs.New(errs.Unprocessable, "category %d has no parent", ref.TrackerID)
		}
		if err := tx.CreateCategory(ctx, c); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"category":   c.CategoryID,
			"tracker_id": c.TrackerID,
			"title":      c.Title,
		}).Info("category created")
		ids[i] = c.CategoryID
	}
	chain := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			chain = append(chain, id)
		}
	}
	return chain, nil
}

// ImportCategories walks the site map and stores every unknown forum with
// its ancestors.
func (s *Manager) ImportCategories(ctx context.Context) error {
	r := s.newRun("import_categories")
	var ids []int
	err := s.withPageScraper(ctx, r, func(sc Scraper) error {
		var err error
		ids, err = sc.CategoryIDs(ctx)
		return err
	})
	if errs.Aborts(err) {
		r.log.WithError(err).Warn("category import interrupted")
		return nil
	} else if err != nil {
		return err
	}
	known, created := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		l := r.log.WithField("forum", id)
		exists := false
		err := s.store.Tx(ctx, func(tx storeTx) error {
			c, err := tx.CategoryByTrackerID(ctx, id, true)
			exists = c != nil
			return err
		})
		if err != nil {
			return err
		}
		if exists {
			known++
			continue
		}
		var refs []scraper.CategoryRef
		err = s.withPageScraper(ctx, r, func(sc Scraper) error {
			var err error
			refs, err = sc.ForumCategories(ctx, id)
			return err
		})
		if errs.Aborts(err) {
			l.WithError(err).Warn("category import interrupted")
			break
		} else if err != nil {
			l.WithError(err).Warn("failed to get forum categories")
			continue
		}
		if len(refs) == 0 {
			l.Warn("forum has no breadcrumb")
			continue
		}
		var chain []int
		err = s.store.Tx(ctx, func(tx storeTx) error {
			var err error
			chain, err = s.ensureCategory(ctx, tx, refs)
			return err
		})
		if err != nil {
			l.WithError(err).Warn("failed to import forum")
			continue
		}
		r.touch(chain)
		created++
	}
	r.log.WithFields(log.Fields{
		"known":   known,
		"created": created,
	}).Info("category import finished")
	return nil
}
