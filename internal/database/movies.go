package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const movieColumns = `
	m.id, m.path, m.name, m.title, m.year, m.size, m.mod_time,
	m.rep_kind, m.rep_image_path, m.rep_screenshot_id,
	(SELECT COUNT(*) FROM screenshots s WHERE s.movie_id = m.id),
	m.created_at, m.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovie(row rowScanner) (*Movie, error) {
	var (
		m                Movie
		modTime, created int64
		updated          int64
		repKind          string
		repImage         sql.NullString
		repShot          sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.Path, &m.Name, &m.Title, &m.Year, &m.Size, &modTime,
		&repKind, &repImage, &repShot, &m.ScreenshotCount, &created, &updated)
	if err != nil {
		return nil, err
	}

	m.ModTime = time.Unix(modTime, 0)
	m.CreatedAt = time.Unix(created, 0)
	m.UpdatedAt = time.Unix(updated, 0)

	switch RefKind(repKind) {
	case RefImage:
		m.Representative = ImageRef(repImage.String)
	case RefScreenshot:
		m.Representative = ScreenshotRef(repShot.Int64)
	default:
		m.Representative = NoRef()
	}
	return &m, nil
}

// UpsertMovie inserts or updates a movie by path within a batch and sets
// m.ID. A discovered poster replaces the representative; a poster that
// disappeared clears it. A screenshot representative is left alone.
func (d *Database) UpsertMovie(b *Batch, m *Movie) error {
	var repImage sql.NullString
	kind := RefNone
	if m.Representative.Kind == RefImage && m.Representative.ImagePath != "" {
		kind = RefImage
		repImage = sql.NullString{String: m.Representative.ImagePath, Valid: true}
	}

	query := `
	INSERT INTO movies (path, name, title, year, size, mod_time, rep_kind, rep_image_path, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	ON CONFLICT(path) DO UPDATE SET
		name = excluded.name,
		title = excluded.title,
		year = excluded.year,
		size = excluded.size,
		mod_time = excluded.mod_time,
		rep_kind = CASE
			WHEN excluded.rep_kind = 'image' THEN 'image'
			WHEN movies.rep_kind = 'image' THEN 'none'
			ELSE movies.rep_kind
		END,
		rep_image_path = excluded.rep_image_path,
		rep_screenshot_id = CASE WHEN excluded.rep_kind = 'image' THEN NULL ELSE movies.rep_screenshot_id END,
		updated_at = strftime('%s', 'now')
	RETURNING id
	`

	start := time.Now()
	err := b.Tx.QueryRowContext(context.Background(), query,
		m.Path, m.Name, m.Title, m.Year, m.Size, m.ModTime.Unix(), string(kind), repImage,
	).Scan(&m.ID)
	recordQuery("upsert_movie", start, err)
	return err
}

// GetFingerprints returns the stored fingerprint of every movie keyed by
// canonical path.
func (d *Database) GetFingerprints(ctx context.Context) (map[string]StoredFingerprint, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_movies", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, "SELECT id, path, size, mod_time FROM movies")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]StoredFingerprint)
	for rows.Next() {
		var (
			path string
			fp   StoredFingerprint
		)
		if err = rows.Scan(&fp.MovieID, &path, &fp.Size, &fp.ModTime); err != nil {
			return nil, err
		}
		out[path] = fp
	}
	err = rows.Err()
	return out, err
}

// DeleteMovies removes movies by id; their screenshot rows cascade.
func (d *Database) DeleteMovies(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("delete_movies", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := d.db.ExecContext(ctx, "DELETE FROM movies WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, err
	}
	recordRows("delete_movies", result)

	keys := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = subtitleKey(id)
	}
	if _, err = d.db.ExecContext(ctx, "DELETE FROM metadata WHERE key IN ("+placeholders+")", keys...); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetMovie returns a movie by id, or ErrNotFound.
func (d *Database) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_movie", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	m, err := scanMovie(d.db.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies m WHERE m.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("movie %d: %w", id, ErrNotFound)
	}
	return m, err
}

// GetMovieByPath returns a movie by canonical path, or ErrNotFound.
func (d *Database) GetMovieByPath(ctx context.Context, path string) (*Movie, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_movie", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	m, err := scanMovie(d.db.QueryRowContext(ctx, "SELECT "+movieColumns+" FROM movies m WHERE m.path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("movie %s: %w", path, ErrNotFound)
	}
	return m, err
}

// ListMovies returns every movie ordered by title.
func (d *Database) ListMovies(ctx context.Context) ([]Movie, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_movies", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, "SELECT "+movieColumns+" FROM movies m ORDER BY m.title COLLATE NOCASE, m.year, m.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movies []Movie
	for rows.Next() {
		var m *Movie
		if m, err = scanMovie(rows); err != nil {
			return nil, err
		}
		movies = append(movies, *m)
	}
	err = rows.Err()
	return movies, err
}

// SetFallbackRepresentative points the movie's representative at the
// given fallback screenshot unless a poster image is set. It reports
// whether the pointer changed.
func (d *Database) SetFallbackRepresentative(ctx context.Context, movieID, screenshotID int64) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_representative", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, `
		UPDATE movies SET rep_kind = 'screenshot', rep_screenshot_id = ?, rep_image_path = NULL
		WHERE id = ? AND rep_kind != 'image'
	`, screenshotID, movieID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}
