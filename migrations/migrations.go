// Package migrations embeds the goose migrations of the governance schema.
package migrations

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed governance/*.sql
var embedded embed.FS

// FS returns the governance migrations rooted at their directory.
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "governance")
	if err != nil {
		panic(err)
	}
	return sub
}

func newProvider(pool *pgxpool.Pool) (*goose.Provider, func() error, error) {
	db := stdlib.OpenDBFromPool(pool)
	p, err := goose.NewProvider(goose.DialectPostgres, db, FS())
	if err != nil {
		_ = db.Close()
		return nil, nil, errors.Wrap(err, "failed to create migration provider")
	}
	return p, db.Close, nil
}

// Up applies every pending migration.
func Up(ctx context.Context, pool *pgxpool.Pool) ([]*goose.MigrationResult, error) {
	p, closeDB, err := newProvider(pool)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeDB() }()

	results, err := p.Up(ctx)
	if err != nil {
		return results, errors.Wrap(err, "failed to apply migrations")
	}
	return results, nil
}

func Status(ctx context.Context, pool *pgxpool.Pool) ([]*goose.MigrationStatus, error) {
	p, closeDB, err := newProvider(pool)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeDB() }()

	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read migration status")
	}
	return statuses, nil
}
