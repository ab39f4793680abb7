package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type migration struct {
	name   string
	script string
}

// RunMigrations applies the schema from dir when set, otherwise from the
// embedded migration files, in lexical order. Statements are idempotent, so
// re-running on an existing database is safe.
func RunMigrations(sqlDB *sql.DB, dir string) error {
	scripts, err := loadMigrations(dir)
	if err != nil {
		return err
	}
	for _, m := range scripts {
		if _, err := sqlDB.Exec(m.script); err != nil {
			return fmt.Errorf("exec migration %s: %w", m.name, err)
		}
	}
	return nil
}

func loadMigrations(dir string) ([]migration, error) {
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read migrations dir: %w", err)
		}
		if err == nil {
			var out []migration
			for _, name := range sortedSQL(entries) {
				content, err := os.ReadFile(filepath.Join(dir, name))
				if err != nil {
					return nil, fmt.Errorf("read migration %s: %w", name, err)
				}
				out = append(out, migration{name: name, script: string(content)})
			}
			return out, nil
		}
	}
	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	var out []migration
	for _, name := range sortedSQL(entries) {
		content, err := embeddedMigrations.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("read embedded migration %s: %w", name, err)
		}
		out = append(out, migration{name: name, script: string(content)})
	}
	return out, nil
}

func sortedSQL(entries []os.DirEntry) []string {
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
