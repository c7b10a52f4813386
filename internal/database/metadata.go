package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Metadata keys.
const (
	lastScanKey       = "last_scan"
	subtitleKeyPrefix = "subtitles:"
)

func subtitleKey(movieID int64) string {
	return subtitleKeyPrefix + strconv.FormatInt(movieID, 10)
}

// GetMetadata returns the value stored under key, or ErrNotFound.
func (d *Database) GetMetadata(ctx context.Context, key string) (value string, err error) {
	defer func(start time.Time) { recordQuery("get_metadata", start, err) }(time.Now())

	d.mu.RLock()
	defer d.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.metadataLocked(ctx, key)
}

func (d *Database) metadataLocked(ctx context.Context, key string) (string, error) {
	var v sql.NullString
	switch err := d.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&v); {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrNotFound
	case err != nil:
		return "", err
	}
	return v.String, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (d *Database) SetMetadata(ctx context.Context, key, value string) (err error) {
	defer func(start time.Time) { recordQuery("set_metadata", start, err) }(time.Now())

	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// GetLastScan returns when the last complete scan finished; the zero time
// means never.
func (d *Database) GetLastScan(ctx context.Context) (time.Time, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.lastScanLocked(ctx)
}

func (d *Database) lastScanLocked(ctx context.Context) (time.Time, error) {
	v, err := d.metadataLocked(ctx, lastScanKey)
	if errors.Is(err, ErrNotFound) || (err == nil && v == "") {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// SetLastScan records when a scan completed. The zero time clears it.
func (d *Database) SetLastScan(ctx context.Context, t time.Time) error {
	var v string
	if !t.IsZero() {
		v = t.UTC().Format(time.RFC3339)
	}
	return d.SetMetadata(ctx, lastScanKey, v)
}

// GetSubtitlePath returns the subtitle file the movie's current screenshots
// were captioned from, or "" if they have none.
func (d *Database) GetSubtitlePath(ctx context.Context, movieID int64) (string, error) {
	v, err := d.GetMetadata(ctx, subtitleKey(movieID))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetSubtitlePath records the subtitle file of the movie's latest batch.
// An empty path means the batch had no subtitles.
func (d *Database) SetSubtitlePath(ctx context.Context, movieID int64, path string) error {
	return d.SetMetadata(ctx, subtitleKey(movieID), path)
}
