package screenshots

import (
	"context"
	"errors"
	"fmt"
	"os"

	"framegrab/internal/database"
	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

var (
	// ErrPersist wraps every failed screenshot write. It signals a bug or
	// a broken database, never a condition worth retrying.
	ErrPersist = errors.New("screenshot persist failed")

	// ErrFileNotWritten means a save was attempted before the image file
	// existed on disk.
	ErrFileNotWritten = errors.New("screenshot file not written")
)

// Store is the only writer of screenshot rows. Writes for one movie are
// serialized; writes for different movies run concurrently.
type Store struct {
	db     *database.Database
	layout Layout
	locks  *movieLocks
}

// NewStore creates a Store over db using layout for file names.
func NewStore(db *database.Database, layout Layout) *Store {
	return &Store{
		db:     db,
		layout: layout,
		locks:  newMovieLocks(),
	}
}

// Layout returns the naming scheme the store was built with.
func (s *Store) Layout() Layout { return s.layout }

// Save records an existing file as the screenshot for (movieID, timestamp),
// replacing the path of any existing row. A nil timestamp saves the
// fallback and points the movie's representative at it unless a poster is
// set. Failures are not retried.
func (s *Store) Save(ctx context.Context, movieID int64, path string, timestamp *int64) (int64, error) {
	canon, err := filesystem.Canonicalize(path)
	if err != nil {
		return 0, s.fail(movieID, path, timestamp, err)
	}

	unlock := s.locks.lock(movieID)
	defer unlock()

	return s.saveLocked(ctx, movieID, canon, timestamp)
}

// Commit moves a staged frame to dest and saves it, unless discard reports
// true, in which case the staged file is removed and nothing is written.
// The check and the write happen under the movie lock.
func (s *Store) Commit(ctx context.Context, movieID int64, staging, dest string, timestamp *int64, discard func() bool) (id int64, persisted bool, err error) {
	canon, err := filesystem.Canonicalize(dest)
	if err != nil {
		_ = os.Remove(staging)
		return 0, false, s.fail(movieID, dest, timestamp, err)
	}

	unlock := s.locks.lock(movieID)
	defer unlock()

	if discard != nil && discard() {
		if rmErr := os.Remove(staging); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logging.Warn("Failed to remove discarded frame %s: %v", staging, rmErr)
		}
		return 0, false, nil
	}

	if err := os.Rename(staging, canon); err != nil {
		_ = os.Remove(staging)
		return 0, false, fmt.Errorf("%w: move %s into place: %w", ErrFileNotWritten, staging, err)
	}

	id, err = s.saveLocked(ctx, movieID, canon, timestamp)
	return id, err == nil, err
}

func (s *Store) saveLocked(ctx context.Context, movieID int64, canon string, timestamp *int64) (int64, error) {
	info, err := filesystem.StatWithRetry(canon, filesystem.DefaultRetryConfig())
	if err != nil || !info.Mode().IsRegular() {
		if err == nil {
			err = fmt.Errorf("not a regular file")
		}
		metrics.ScreenshotSavesTotal.WithLabelValues("error").Inc()
		logging.Error("Refusing to save screenshot row before file exists: movie=%d timestamp=%s path=%s: %v",
			movieID, formatTimestamp(timestamp), canon, err)
		return 0, fmt.Errorf("%w: %s: %w", ErrFileNotWritten, canon, err)
	}

	id, err := s.db.UpsertScreenshot(ctx, movieID, canon, timestamp)
	if err != nil {
		return 0, s.fail(movieID, canon, timestamp, err)
	}

	if timestamp == nil {
		if _, err := s.db.SetFallbackRepresentative(ctx, movieID, id); err != nil {
			return 0, s.fail(movieID, canon, timestamp, err)
		}
	}

	metrics.ScreenshotSavesTotal.WithLabelValues("success").Inc()
	logging.Debug("Saved screenshot %d: movie=%d timestamp=%s path=%s", id, movieID, formatTimestamp(timestamp), canon)
	return id, nil
}

func (s *Store) fail(movieID int64, path string, timestamp *int64, err error) error {
	metrics.ScreenshotSavesTotal.WithLabelValues("error").Inc()
	logging.Error("Screenshot persist failed: movie=%d timestamp=%s path=%s: %v",
		movieID, formatTimestamp(timestamp), path, err)
	return fmt.Errorf("%w: movie=%d timestamp=%s path=%s: %w", ErrPersist, movieID, formatTimestamp(timestamp), path, err)
}

// Clear deletes every timestamped row of a movie, then removes their files.
// The fallback is kept. File removal is best effort.
func (s *Store) Clear(ctx context.Context, movieID int64) (int, error) {
	unlock := s.locks.lock(movieID)
	defer unlock()

	cleared, err := s.db.ClearTimestampedScreenshots(ctx, movieID)
	if err != nil {
		logging.Error("Failed to clear screenshots for movie %d: %v", movieID, err)
		return 0, fmt.Errorf("%w: clear movie %d: %w", ErrPersist, movieID, err)
	}

	for _, shot := range cleared {
		if err := os.Remove(shot.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Failed to remove cleared screenshot %s: %v", shot.Path, err)
		}
	}

	metrics.ScreenshotsCleared.Add(float64(len(cleared)))
	return len(cleared), nil
}

// Delete removes a row. The file, if any, is left alone.
func (s *Store) Delete(ctx context.Context, shot database.Screenshot) error {
	unlock := s.locks.lock(shot.MovieID)
	defer unlock()

	if err := s.db.DeleteScreenshot(ctx, shot.ID); err != nil {
		logging.Error("Failed to delete screenshot row %d (movie %d): %v", shot.ID, shot.MovieID, err)
		return fmt.Errorf("%w: delete screenshot %d: %w", ErrPersist, shot.ID, err)
	}
	return nil
}

// Get returns a screenshot row by id.
func (s *Store) Get(ctx context.Context, id int64) (*database.Screenshot, error) {
	return s.db.GetScreenshot(ctx, id)
}

// List returns a movie's screenshots sorted by timestamp, fallback last.
func (s *Store) List(ctx context.Context, movieID int64) ([]database.Screenshot, error) {
	return s.db.ListScreenshots(ctx, movieID)
}

// Count returns how many screenshot rows a movie has.
func (s *Store) Count(ctx context.Context, movieID int64) (int, error) {
	return s.db.CountScreenshots(ctx, movieID)
}

// Counts returns how many of a movie's rows are timestamped and whether
// it has a fallback row.
func (s *Store) Counts(ctx context.Context, movieID int64) (timestamped int, hasFallback bool, err error) {
	timestamped, fallback, err := s.db.ScreenshotCounts(ctx, movieID)
	return timestamped, fallback > 0, err
}

func formatTimestamp(ts *int64) string {
	if ts == nil {
		return "fallback"
	}
	return fmt.Sprintf("%ds", *ts)
}
