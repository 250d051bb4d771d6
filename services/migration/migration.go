package migration

import (
	"github.com/go-pg/migrations/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	services "github.com/webtor-io/common-services"
)

const defaultDir = "migrations"

// Register adds Go migrations to the collection.
type Register func(col *migrations.Collection)

// PGMigration applies sql migrations found in dir together with the
// registered Go ones.
type PGMigration struct {
	db       *services.PG
	dir      string
	register []Register
}

func NewPGMigration(db *services.PG, dir string, register ...Register) *PGMigration {
	if dir == "" {
		dir = defaultDir
	}
	return &PGMigration{
		db:       db,
		dir:      dir,
		register: register,
	}
}

func (s *PGMigration) collection() (*migrations.Collection, error) {
	col := migrations.NewCollection()
	for _, r := range s.register {
		r(col)
	}
	if err := col.DiscoverSQLMigrations(s.dir); err != nil {
		return nil, errors.Wrapf(err, "failed to discover migrations in %v", s.dir)
	}
	return col, nil
}

// Run executes migration command (up, down, reset, version), up by default.
func (s *PGMigration) Run(a ...string) error {
	db := s.db.Get()
	if db == nil {
		log.Info("db not initialized, skipping migration")
		return nil
	}
	col, err := s.collection()
	if err != nil {
		return err
	}
	if _, _, err := col.Run(db, "init"); err != nil {
		return errors.Wrap(err, "failed to init migrations table")
	}
	oldVersion, newVersion, err := col.Run(db, a...)
	if err != nil {
		return errors.Wrapf(err, "failed to migrate db from version %v to %v", oldVersion, newVersion)
	}
	l := log.WithField("version", newVersion)
	if newVersion != oldVersion {
		l.WithField("from", oldVersion).Info("db migrated")
	} else {
		l.Info("db is up to date")
	}
	return nil
}
