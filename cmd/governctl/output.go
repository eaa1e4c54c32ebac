package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/pkg/configuration"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, err := cmd.Flags().GetString("catalog")
	if err != nil {
		return nil, err
	}
	c, err := catalog.Load(path)
	if err != nil {
		return nil, withCode(exitValidation, err)
	}
	return c, nil
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, configuration.Use().Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, fmt.Errorf("db connect failed: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, withCode(exitDB, fmt.Errorf("db ping failed: %w", err))
	}
	return pool, nil
}
