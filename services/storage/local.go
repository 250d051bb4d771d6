package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rtrss/worker/services/errs"
	log "github.com/sirupsen/logrus"
)

// LocalDirectory keeps artifacts as files. Every key is guarded by an
// advisory lock file next to it so several processes can share the dir.
type LocalDirectory struct {
	dir         string
	lockTimeout time.Duration
	lockPoll    time.Duration
}

func NewLocalDirectory(dir string, o *Options) *LocalDirectory {
	o = o.withDefaults()
	return &LocalDirectory{
		dir:         dir,
		lockTimeout: o.LockTimeout,
		lockPoll:    o.LockPoll,
	}
}

func (s *LocalDirectory) path(key string) (string, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.dir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", errs.New(errs.Storage, "invalid storage key %q", key)
	}
	return p, nil
}

func (s *LocalDirectory) lock(ctx context.Context, p string, shared bool) (*flock.Flock, error) {
	fl := flock.New(p + ".lock")
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	var locked bool
	var err error
	if shared {
		locked, err = fl.TryRLockContext(ctx, s.lockPoll)
	} else {
		locked, err = fl.TryLockContext(ctx, s.lockPoll)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "failed to acquire lock")
	}
	if !locked {
		return nil, errs.New(errs.Storage, "failed to acquire lock for %v", p)
	}
	return fl, nil
}

func unlock(fl *flock.Flock) {
	if err := fl.Unlock(); err != nil {
		log.WithError(err).WithField("lock", fl.Path()).Warn("failed to release lock")
	}
}

func (s *LocalDirectory) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	fl, err := s.lock(ctx, p, true)
	if err != nil {
		return nil, err
	}
	defer unlock(fl)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "failed to read file")
	}
	return data, nil
}

func (s *LocalDirectory) Put(ctx context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errs.Wrap(errs.Storage, err, "failed to create directory")
	}
	fl, err := s.lock(ctx, p, false)
	if err != nil {
		return err
	}
	defer unlock(fl)
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*.tmp")
	if err != nil {
		return errs.Wrap(errs.Storage, err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.Storage, err, "failed to write file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.Wrap(errs.Storage, err, "failed to sync file")
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.Storage, err, "failed to close file")
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return errs.Wrap(errs.Storage, err, "failed to move file in place")
	}
	return nil
}

func (s *LocalDirectory) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	fl, err := s.lock(ctx, p, false)
	if err != nil {
		return err
	}
	defer unlock(fl)
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrap(errs.Storage, err, "failed to delete file")
	}
	// lock file goes away with the key while it is still held
	if err := os.Remove(fl.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("lock", fl.Path()).Warn("failed to remove lock file")
	}
	return nil
}

func (s *LocalDirectory) BulkDelete(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			log.WithError(err).WithField("key", k).Warn("failed to delete")
		}
	}
	return nil
}

func (s *LocalDirectory) String() string {
	return "file://" + s.dir
}
