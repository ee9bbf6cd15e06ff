package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
)

// migrator handles schema versioning through a single-row schema_migrations table.
type migrator struct{}

const latestVersion = 2

func (m migrator) ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`)
	if err != nil {
		return err
	}
	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt); err != nil {
		return err
	}
	if cnt == 0 {
		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`)
	}
	return err
}

func (m migrator) version(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// upToLatest applies every migration above the recorded version.
func (m migrator) upToLatest(ctx context.Context, db *sql.DB) error {
	cur, err := m.version(ctx, db)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := m.up(ctx, db, v); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if _, err := db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v); err != nil {
			return err
		}
	}
	return nil
}

func (m migrator) up(ctx context.Context, db *sql.DB, v int) error {
	var stmts []string
	switch v {
	case 1:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS profiles (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                name TEXT NOT NULL DEFAULT '',
                email TEXT NOT NULL DEFAULT '',
                organization TEXT NOT NULL DEFAULT '',
                seek_share TEXT NOT NULL DEFAULT '',
                resource_type TEXT NOT NULL DEFAULT '',
                description TEXT NOT NULL DEFAULT '',
                research_area TEXT NOT NULL DEFAULT '',
                primary_text TEXT NOT NULL DEFAULT '',
                status TEXT NOT NULL DEFAULT 'active',
                embedding TEXT,
                created_at TEXT NOT NULL,
                updated_at TEXT NOT NULL
            );`,
		}
	case 2:
		stmts = []string{
			`CREATE INDEX IF NOT EXISTS idx_profiles_status_intent ON profiles(status, seek_share);`,
		}
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("v%d step %d: %w", v, i, err)
		}
	}
	return nil
}
