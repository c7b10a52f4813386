package database

import (
	"context"
	"fmt"
	"time"
)

// migrations are applied in order; the database's user_version is the
// number already applied. Append, never edit.
var migrations = []string{
	// 1: movies, screenshots, metadata.
	`
CREATE TABLE movies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	title TEXT NOT NULL,
	year INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	mod_time INTEGER NOT NULL,
	rep_kind TEXT NOT NULL DEFAULT 'none' CHECK (rep_kind IN ('none', 'image', 'screenshot')),
	rep_image_path TEXT,
	rep_screenshot_id INTEGER,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX idx_movies_title ON movies(title COLLATE NOCASE);

CREATE TABLE screenshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	movie_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	timestamp INTEGER,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
	FOREIGN KEY (movie_id) REFERENCES movies(id) ON DELETE CASCADE,
	UNIQUE (movie_id, timestamp)
);

-- NULLs are distinct in UNIQUE constraints; this keeps one fallback per movie.
CREATE UNIQUE INDEX idx_screenshots_fallback ON screenshots(movie_id) WHERE timestamp IS NULL;
CREATE UNIQUE INDEX idx_screenshots_path ON screenshots(path);

CREATE TRIGGER screenshots_fallback_ad AFTER DELETE ON screenshots
WHEN old.timestamp IS NULL BEGIN
	UPDATE movies SET rep_kind = 'none', rep_screenshot_id = NULL
	WHERE id = old.movie_id AND rep_kind = 'screenshot' AND rep_screenshot_id = old.id;
END;

CREATE TABLE metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);
`,
}

// SchemaVersion returns the number of migrations applied.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// migrate applies every pending migration, each in its own transaction.
func (d *Database) migrate(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("migrate", start, err) }()

	current, err := d.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this binary (%d)", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
	}
	return nil
}
