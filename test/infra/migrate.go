package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationDirs resolves the core and test-only migration folders relative
// to this source file, so the harness works from any working directory.
func migrationDirs() (core, test string) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", ""
	}
	base := filepath.Dir(file)
	return filepath.Join(base, "..", "..", "migrations"), filepath.Join(base, "..", "migrations")
}

// ApplyMigrations runs every .sql file from the core and test migration
// folders against dsn and returns a ready pool. With isolate set, all work
// happens in a per-run schema that the returned teardown drops, so several
// runs can share one database.
func ApplyMigrations(ctx context.Context, dsn string, isolate bool) (*pgxpool.Pool, func(context.Context) error, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse pool config: %w", err)
	}

	teardown := func(context.Context) error { return nil }

	if isolate {
		schema := fmt.Sprintf("escrow_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		if err := execOnce(ctx, dsn, fmt.Sprintf("CREATE SCHEMA %s", ident)); err != nil {
			return nil, nil, fmt.Errorf("create schema %s: %w", schema, err)
		}

		setPath := fmt.Sprintf("SET search_path TO %s", ident)
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, setPath)
			return err
		}

		teardown = func(ctx context.Context) error {
			return execOnce(ctx, dsn, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", ident))
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pool: %w", err)
	}

	core, test := migrationDirs()
	for _, dir := range []string{core, test} {
		if err := applyDir(ctx, pool, dir); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	return pool, teardown, nil
}

// execOnce runs a single statement on a fresh connection outside the pool.
func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

func applyDir(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	if dir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("glob %s: %w", dir, err)
	}
	// Glob output is already lexically sorted, which is the apply order.
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
