package main

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/pardot/rp"
	"github.com/pardot/rp/storage"
	"github.com/pardot/rp/storage/disk"
	"github.com/pardot/rp/storage/memory"
	sqlstorage "github.com/pardot/rp/storage/sql"
)

// openStorage picks a backend from the scheme of the database URL:
// postgres:// and postgresql:// use database/sql with the configured driver,
// bolt:// a local bbolt file and memory:// a process local map.
func openStorage(ctx context.Context, cfg *rp.Config) (storage.Storage, func() error, error) {
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing database url")
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening %s database", cfg.DatabaseDriver)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "connecting to database")
		}
		s, err := sqlstorage.New(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "initializing sql storage")
		}
		return s, db.Close, nil

	case "bolt":
		path := strings.TrimPrefix(cfg.DatabaseURL, "bolt://")
		if path == "" {
			return nil, nil, errors.New("bolt database url has no path")
		}
		s, err := disk.New(path, os.FileMode(0600))
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening bolt database")
		}
		return s, s.Close, nil

	case "memory":
		return memory.New(), func() error { return nil }, nil
	}

	return nil, nil, errors.Errorf("unsupported database url scheme %q", u.Scheme)
}
