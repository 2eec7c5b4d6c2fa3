// Package migrations applies the embedded schema to Postgres.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed *.sql
var files embed.FS

const lockKey int64 = 731902114

type migration struct {
	name string
	sql  string
}

// Names lists the embedded migrations in the order Apply runs them.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func load() ([]migration, error) {
	names, err := Names()
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(names))
	for _, name := range names {
		raw, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, migration{name: name, sql: strings.TrimSpace(string(raw))})
	}
	return out, nil
}

// Apply brings the schema up to date. Each file runs once, inside its own
// transaction, and concurrent processes serialize on an advisory lock.
func Apply(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	all, err := load()
	if err != nil {
		return err
	}

	return pool.AcquireFunc(ctx, func(c *pgxpool.Conn) error {
		if _, err := c.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
			return fmt.Errorf("lock schema: %w", err)
		}
		defer func() {
			_, _ = c.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)
		}()

		applied, err := appliedSet(ctx, c.Conn())
		if err != nil {
			return err
		}

		for _, m := range all {
			if _, done := applied[m.name]; done {
				continue
			}
			if err := pgx.BeginFunc(ctx, c.Conn(), m.run(ctx)); err != nil {
				return fmt.Errorf("migration %s: %w", m.name, err)
			}
			logger.Info("migration applied", zap.String("name", m.name))
		}
		return nil
	})
}

func (m migration) run(ctx context.Context) func(pgx.Tx) error {
	return func(tx pgx.Tx) error {
		if m.sql != "" {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name)
		return err
	}
}

func appliedSet(ctx context.Context, conn *pgx.Conn) (map[string]struct{}, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}
