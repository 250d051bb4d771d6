package manager

import (
	"context"

	"github.com/rtrss/worker/services/errs"
	"github.com/rtrss/worker/services/scraper"
	log "github.com/sirupsen/logrus"
)

// Populate spends the estimated free download slots on underpopulated
// subforums.
func (s *Manager) Populate(ctx context.Context) error {
	budget, err := s.EstimateFreeDownloadSlots(ctx, s.cfg.EstimateDays)
	if err != nil {
		return err
	}
	if budget == 0 {
		log.Info("no free download slots, populate skipped")
		return nil
	}
	_, err = s.PopulateCategories(ctx, s.cfg.PopulateMinCount, budget)
	return err
}

// PopulateCategories adds torrents to subforums holding less than minCount
// of them, at most totalBudget overall. Subforums with no search results are
// marked to be skipped next time.
func (s *Manager) PopulateCategories(ctx context.Context, minCount int, totalBudget int) (int, error) {
	r := s.newRun("populate")
	cats, err := s.store.UnderpopulatedSubforums(ctx, minCount)
	if err != nil {
		return 0, err
	}
	r.log.WithField("categories", len(cats)).WithField("budget", totalBudget).Info("populate started")
	added := 0
	defer func() {
		s.invalidate(ctx, r)
		r.log.WithField("added", added).Info("populate finished")
	}()
	for _, c := range cats {
		if added >= totalBudget || ctx.Err() != nil {
			break
		}
		l := r.log.WithField("category", c.CategoryID).WithField("forum", c.TrackerID)
		var results []scraper.SearchResult
		err := s.withPageScraper(ctx, r, func(sc Scraper) error {
			var err error
			results, err = sc.FindTorrents(ctx, c.TrackerID)
			return err
		})
		if errs.Aborts(err) {
			l.WithError(err).Warn("populate interrupted")
			return added, nil
		} else if err != nil {
			l.WithError(err).Warn("search failed")
			continue
		}
		if len(results) == 0 {
			l.Info("nothing found, category will be skipped")
			if err := s.store.SetCategorySkip(ctx, c.CategoryID, true); err != nil {
				l.WithError(err).Warn("failed to mark category")
			}
			continue
		}
		ids := make([]int, 0, len(results))
		for _, res := range results {
			ids = append(ids, res.TopicID)
		}
		stored, err := s.store.StoredTopics(ctx, ids)
		if err != nil {
			return added, err
		}
		need := minCount - c.Torrents
		for _, res := range results {
			if need <= 0 || added >= totalBudget || ctx.Err() != nil {
				break
			}
			if _, ok := stored[res.TopicID]; ok {
				continue
			}
			n, err := s.processPendingTopic(ctx, r, PendingTopic{
				TopicID:   res.TopicID,
				Title:     res.Title,
				UpdatedAt: res.UpdatedAt,
				IsNew:     true,
			})
			if errs.Aborts(err) {
				l.WithError(err).Warn("populate interrupted")
				return added, nil
			} else if err != nil {
				r.itemFailed(res.TopicID, err)
				continue
			}
			added += n
			need -= n
		}
	}
	return added, nil
}
