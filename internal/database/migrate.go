package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const dimensionsPlaceholder = "{{EMBEDDING_DIMENSIONS}}"

// Migration is one embedded schema file. Files are applied in lexical order
// and recorded in schema_migrations.
type Migration struct {
	Name string
	SQL  string
}

// LoadMigrations reads the embedded migrations and substitutes the embedding
// dimension into the vector column definitions.
func LoadMigrations(embeddingDimensions int) ([]Migration, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sql := strings.ReplaceAll(string(body), dimensionsPlaceholder, strconv.Itoa(embeddingDimensions))
		migrations = append(migrations, Migration{
			Name: strings.TrimPrefix(name, "migrations/"),
			SQL:  sql,
		})
	}
	return migrations, nil
}

// Migrate applies pending migrations, each in its own transaction.
func (db *DB) Migrate(ctx context.Context, embeddingDimensions int) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := LoadMigrations(embeddingDimensions)
	if err != nil {
		return 0, err
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT name FROM schema_migrations`); err != nil {
		return 0, fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	count := 0
	for _, m := range migrations {
		if done[m.Name] {
			continue
		}
		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		log.Info().Str("migration", m.Name).Msg("migration applied")
		count++
	}

	return count, nil
}
