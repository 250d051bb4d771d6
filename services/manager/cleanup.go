package manager

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Cleanup keeps the configured number of most recent torrents per category
// and removes the rest with their files.
func (s *Manager) Cleanup(ctx context.Context) error {
	if s.cfg.CleanupKeep <= 0 {
		log.Debug("cleanup disabled")
		return nil
	}
	ids, err := s.store.TorrentsBeyondRetention(ctx, s.cfg.CleanupKeep)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		log.Info("cleanup finished, nothing to remove")
		return nil
	}
	if err := s.store.DeleteTorrents(ctx, ids); err != nil {
		return err
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, torrentKey(id))
	}
	if err := s.storage.BulkDelete(ctx, keys); err != nil {
		return err
	}
	log.WithField("removed", len(ids)).Info("cleanup finished")
	return nil
}
