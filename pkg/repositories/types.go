package repositories

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"
)

// SaveFormatVersion tags every stored save record.
const SaveFormatVersion = "1.0.0"

//go:embed migrations
var migrationsFS embed.FS

type execer interface {
	exec(ctx context.Context, query string) error
}

type execFunc func(ctx context.Context, query string) error

func (f execFunc) exec(ctx context.Context, query string) error {
	return f(ctx, query)
}

// applyMigrations runs every .sql file of migrations/<dialect> in name order.
func applyMigrations(ctx context.Context, dialect string, db execer) error {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		migrationPath := path.Join(dir, entry.Name())
		migration, err := fs.ReadFile(migrationsFS, migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", migrationPath, err)
		}

		if err := db.exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migrationPath, err)
		}
	}
	return nil
}

func nowUnix(now func() time.Time) int64 {
	if now == nil {
		return time.Now().Unix()
	}
	return now().Unix()
}
