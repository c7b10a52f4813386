package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const screenshotColumns = "id, movie_id, path, timestamp, created_at"

func scanScreenshot(row rowScanner) (*Screenshot, error) {
	var (
		s       Screenshot
		ts      sql.NullInt64
		created int64
	)
	if err := row.Scan(&s.ID, &s.MovieID, &s.Path, &ts, &created); err != nil {
		return nil, err
	}
	if ts.Valid {
		v := ts.Int64
		s.Timestamp = &v
	}
	s.CreatedAt = time.Unix(created, 0)
	return &s, nil
}

// UpsertScreenshot writes the row for (movieID, timestamp), replacing the
// path of an existing one. A nil timestamp targets the movie's fallback row.
// It is a single statement with no retry.
func (d *Database) UpsertScreenshot(ctx context.Context, movieID int64, path string, timestamp *int64) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("save_screenshot", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id int64
	if timestamp == nil {
		err = d.db.QueryRowContext(ctx, `
			INSERT INTO screenshots (movie_id, path, timestamp) VALUES (?, ?, NULL)
			ON CONFLICT(movie_id) WHERE timestamp IS NULL DO UPDATE SET
				path = excluded.path,
				created_at = strftime('%s', 'now')
			RETURNING id
		`, movieID, path).Scan(&id)
	} else {
		err = d.db.QueryRowContext(ctx, `
			INSERT INTO screenshots (movie_id, path, timestamp) VALUES (?, ?, ?)
			ON CONFLICT(movie_id, timestamp) DO UPDATE SET
				path = excluded.path,
				created_at = strftime('%s', 'now')
			RETURNING id
		`, movieID, path, *timestamp).Scan(&id)
	}
	return id, err
}

// GetScreenshot returns a screenshot by id, or ErrNotFound.
func (d *Database) GetScreenshot(ctx context.Context, id int64) (*Screenshot, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_screenshot", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	s, err := scanScreenshot(d.db.QueryRowContext(ctx, "SELECT "+screenshotColumns+" FROM screenshots WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("screenshot %d: %w", id, ErrNotFound)
	}
	return s, err
}

// ListScreenshots returns a movie's screenshots by timestamp ascending with
// the fallback last.
func (d *Database) ListScreenshots(ctx context.Context, movieID int64) ([]Screenshot, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_screenshots", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT "+screenshotColumns+
		" FROM screenshots WHERE movie_id = ? ORDER BY timestamp IS NULL, timestamp, id", movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shots []Screenshot
	for rows.Next() {
		var s *Screenshot
		if s, err = scanScreenshot(rows); err != nil {
			return nil, err
		}
		shots = append(shots, *s)
	}
	err = rows.Err()
	return shots, err
}

// CountScreenshots returns how many rows a movie has.
func (d *Database) CountScreenshots(ctx context.Context, movieID int64) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_screenshots", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM screenshots WHERE movie_id = ?", movieID).Scan(&n)
	return n, err
}

// ScreenshotCounts returns how many of a movie's rows are timestamped and
// how many are fallbacks (0 or 1).
func (d *Database) ScreenshotCounts(ctx context.Context, movieID int64) (timestamped, fallback int, err error) {
	start := time.Now()
	defer func() { recordQuery("count_screenshots", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(timestamp), COUNT(*) - COUNT(timestamp) FROM screenshots WHERE movie_id = ?",
		movieID).Scan(&timestamped, &fallback)
	return timestamped, fallback, err
}

// DeleteScreenshot removes one row. Deleting a missing row is not an error.
func (d *Database) DeleteScreenshot(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_screenshot", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "DELETE FROM screenshots WHERE id = ?", id)
	recordRows("delete_screenshot", result)
	return err
}

// ClearTimestampedScreenshots deletes every timestamped row of a movie in
// one transaction and returns the deleted rows. The fallback row is kept.
func (d *Database) ClearTimestampedScreenshots(ctx context.Context, movieID int64) (cleared []Screenshot, err error) {
	start := time.Now()
	defer func() { recordQuery("clear_screenshots", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
			}
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT "+screenshotColumns+
		" FROM screenshots WHERE movie_id = ? AND timestamp IS NOT NULL", movieID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s *Screenshot
		if s, err = scanScreenshot(rows); err != nil {
			_ = rows.Close()
			return nil, err
		}
		cleared = append(cleared, *s)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result, err := tx.ExecContext(ctx, "DELETE FROM screenshots WHERE movie_id = ? AND timestamp IS NOT NULL", movieID)
	if err != nil {
		return nil, err
	}
	recordRows("clear_screenshots", result)

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return cleared, nil
}
