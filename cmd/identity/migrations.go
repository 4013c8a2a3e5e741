package identity

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrations holds the goose SQL migrations. Table names are unqualified;
// Migrate runs them with search_path set to the target schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads from.
const MigrationsDir = "migrations"

// Migrate creates schema if needed and applies every pending migration to it.
// The goose version table lives in the same schema. It returns the number of
// migrations applied by this call.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schema string) (int, error) {
	if pool == nil {
		return 0, fmt.Errorf("identity: migrate: pool is nil")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return 0, fmt.Errorf("identity: migrate: schema is empty")
	}
	ident := pgx.Identifier{schema}.Sanitize()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+ident); err != nil {
		return 0, classify("migrate", err)
	}

	cc := pool.Config().ConnConfig.Copy()
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = map[string]string{}
	}
	cc.RuntimeParams["search_path"] = ident
	db := stdlib.OpenDB(*cc)
	defer func() { _ = db.Close() }()

	fsys, err := fs.Sub(Migrations, MigrationsDir)
	if err != nil {
		return 0, err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("identity: migrate: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("identity: migrate %s: %w", schema, err)
	}
	return len(results), nil
}
