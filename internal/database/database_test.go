package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "framegrab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertMovie(t *testing.T, db *Database, m *Movie) int64 {
	t.Helper()

	if m.Name == "" {
		m.Name = filepath.Base(m.Path)
	}
	if m.Title == "" {
		m.Title = m.Name
	}
	if m.ModTime.IsZero() {
		m.ModTime = time.Unix(1700000000, 0)
	}

	b, err := db.BeginBatch()
	require.NoError(t, err)
	err = db.UpsertMovie(b, m)
	require.NoError(t, db.EndBatch(b, err))
	return m.ID
}

func ts(v int64) *int64 { return &v }

// =============================================================================
// Movies
// =============================================================================

func TestUpsertMovie_InsertThenUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := insertMovie(t, db, &Movie{Path: "/media/Heat (1995).mkv", Title: "Heat", Year: 1995, Size: 100})
	require.NotZero(t, id)

	again := insertMovie(t, db, &Movie{Path: "/media/Heat (1995).mkv", Title: "Heat", Year: 1995, Size: 200})
	assert.Equal(t, id, again, "upsert must keep the surrogate id")

	m, err := db.GetMovie(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), m.Size)
	assert.Equal(t, 1995, m.Year)
	assert.Equal(t, RefNone, m.Representative.Kind)
}

func TestGetMovie_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetMovie(context.Background(), 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = db.GetMovieByPath(context.Background(), "/nope.mkv")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetFingerprints(t *testing.T) {
	db := setupTestDB(t)

	mod := time.Unix(1700000123, 0)
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv", Size: 42, ModTime: mod})

	fps, err := db.GetFingerprints(context.Background())
	require.NoError(t, err)
	require.Contains(t, fps, "/media/a.mkv")
	assert.Equal(t, StoredFingerprint{MovieID: id, Fingerprint: Fingerprint{Size: 42, ModTime: mod.Unix()}}, fps["/media/a.mkv"])
}

func TestDeleteMovies_CascadesScreenshots(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})
	_, err := db.UpsertScreenshot(ctx, id, "/shots/1/1_screenshot0s.jpg", ts(0))
	require.NoError(t, err)

	n, err := db.DeleteMovies(ctx, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := db.CountScreenshots(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRepresentative_PosterWinsOverFallback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv", Representative: ImageRef("/media/poster.jpg")})
	shotID, err := db.UpsertScreenshot(ctx, id, "/shots/1/1_fallback.jpg", nil)
	require.NoError(t, err)

	changed, err := db.SetFallbackRepresentative(ctx, id, shotID)
	require.NoError(t, err)
	assert.False(t, changed)

	m, err := db.GetMovie(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ImageRef("/media/poster.jpg"), m.Representative)

	// Poster removed on rescan: the image reference is cleared.
	insertMovie(t, db, &Movie{Path: "/media/a.mkv"})
	changed, err = db.SetFallbackRepresentative(ctx, id, shotID)
	require.NoError(t, err)
	assert.True(t, changed)

	m, err = db.GetMovie(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ScreenshotRef(shotID), m.Representative)
}

func TestRepresentative_ClearedWhenFallbackDeleted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})
	shotID, err := db.UpsertScreenshot(ctx, id, "/shots/1/1_fallback.jpg", nil)
	require.NoError(t, err)
	_, err = db.SetFallbackRepresentative(ctx, id, shotID)
	require.NoError(t, err)

	require.NoError(t, db.DeleteScreenshot(ctx, shotID))

	m, err := db.GetMovie(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RefNone, m.Representative.Kind)
	assert.False(t, m.Representative.IsSet())
}

// =============================================================================
// Screenshots
// =============================================================================

func TestUpsertScreenshot_UniquePerTimestamp(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	first, err := db.UpsertScreenshot(ctx, id, "/shots/a/x_screenshot120s.jpg", ts(120))
	require.NoError(t, err)
	second, err := db.UpsertScreenshot(ctx, id, "/shots/a/y_screenshot120s.jpg", ts(120))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	shots, err := db.ListScreenshots(ctx, id)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Equal(t, "/shots/a/y_screenshot120s.jpg", shots[0].Path)
}

func TestUpsertScreenshot_SingleFallback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	a, err := db.UpsertScreenshot(ctx, id, "/shots/a/1_fallback.jpg", nil)
	require.NoError(t, err)
	b, err := db.UpsertScreenshot(ctx, id, "/shots/a/1_fallback2.jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	n, err := db.CountScreenshots(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScreenshotCounts_SplitsFallback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	for _, v := range []int64{0, 120, 240} {
		_, err := db.UpsertScreenshot(ctx, id, fmt.Sprintf("/shots/a/1_screenshot%ds.jpg", v), ts(v))
		require.NoError(t, err)
	}
	_, err := db.UpsertScreenshot(ctx, id, "/shots/a/1_fallback.jpg", nil)
	require.NoError(t, err)

	timestamped, fallback, err := db.ScreenshotCounts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, timestamped)
	assert.Equal(t, 1, fallback)

	timestamped, fallback, err = db.ScreenshotCounts(ctx, 9999)
	require.NoError(t, err)
	assert.Zero(t, timestamped)
	assert.Zero(t, fallback)
}

func TestSubtitlePath(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	got, err := db.GetSubtitlePath(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, db.SetSubtitlePath(ctx, id, "/media/a.en.srt"))
	got, err = db.GetSubtitlePath(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/media/a.en.srt", got)

	_, err = db.DeleteMovies(ctx, []int64{id})
	require.NoError(t, err)
	_, err = db.GetMetadata(ctx, subtitleKey(id))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertScreenshot_ConcurrentSameKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.UpsertScreenshot(ctx, id, "/shots/a/1_screenshot120s.jpg", ts(120))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := db.CountScreenshots(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListScreenshots_SortedNullsLast(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	for _, v := range []int64{480, 0, 240} {
		_, err := db.UpsertScreenshot(ctx, id, "/shots/a/"+time.Duration(v).String(), ts(v))
		require.NoError(t, err)
	}
	_, err := db.UpsertScreenshot(ctx, id, "/shots/a/fallback", nil)
	require.NoError(t, err)
	_, err = db.UpsertScreenshot(ctx, id, "/shots/a/120", ts(120))
	require.NoError(t, err)

	shots, err := db.ListScreenshots(ctx, id)
	require.NoError(t, err)
	require.Len(t, shots, 5)

	var got []any
	for _, s := range shots {
		if s.Timestamp == nil {
			got = append(got, nil)
		} else {
			got = append(got, *s.Timestamp)
		}
	}
	assert.Equal(t, []any{int64(0), int64(120), int64(240), int64(480), nil}, got)
}

func TestClearTimestampedScreenshots_KeepsFallback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})

	_, err := db.UpsertScreenshot(ctx, id, "/shots/a/0", ts(0))
	require.NoError(t, err)
	_, err = db.UpsertScreenshot(ctx, id, "/shots/a/120", ts(120))
	require.NoError(t, err)
	fb, err := db.UpsertScreenshot(ctx, id, "/shots/a/fallback", nil)
	require.NoError(t, err)

	cleared, err := db.ClearTimestampedScreenshots(ctx, id)
	require.NoError(t, err)
	assert.Len(t, cleared, 2)

	shots, err := db.ListScreenshots(ctx, id)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Equal(t, fb, shots[0].ID)
	assert.True(t, shots[0].IsFallback())
}

func TestGetScreenshot_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetScreenshot(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Stats and metadata
// =============================================================================

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := insertMovie(t, db, &Movie{Path: "/media/a.mkv"})
	insertMovie(t, db, &Movie{Path: "/media/b.mkv"})
	_, err := db.UpsertScreenshot(ctx, a, "/shots/a/0", ts(0))
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, db.SetLastScan(ctx, now))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMovies)
	assert.Equal(t, 1, stats.TotalScreenshots)
	assert.Equal(t, 1, stats.MoviesWithoutScreenshots)
	assert.True(t, now.Equal(stats.LastScan))

	ms := db.GetStats()
	assert.Equal(t, 2, ms.TotalMovies)
}

func TestMetadata(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetMetadata(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	last, err := db.GetLastScan(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	require.NoError(t, db.SetMetadata(ctx, "k", "v1"))
	require.NoError(t, db.SetMetadata(ctx, "k", "v2"))
	v, err := db.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestMetadata_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key%d", i)
			assert.NoError(t, db.SetMetadata(ctx, key, fmt.Sprintf("value%d", i)))
			_, _ = db.GetMetadata(ctx, key)
		}()
	}
	wg.Wait()

	for i := range 10 {
		v, err := db.GetMetadata(ctx, fmt.Sprintf("key%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value%d", i), v)
	}
}

func TestLastScan_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, db.SetLastScan(ctx, at))

	got, err := db.GetLastScan(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(got), "got %v", got)
}

func TestEndBatch_RollbackJoinsErrors(t *testing.T) {
	db := setupTestDB(t)

	b, err := db.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, db.UpsertMovie(b, &Movie{Path: "/media/a.mkv", Name: "a", Title: "a", ModTime: time.Now()}))

	cause := errors.New("walk failed")
	err = db.EndBatch(b, cause)
	assert.ErrorIs(t, err, cause)

	fps, err := db.GetFingerprints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fps, "rolled back batch must not persist")
}

func TestRecordQuery(t *testing.T) {
	// Must not panic for either outcome.
	recordQuery("test_operation", time.Now(), nil)
	recordQuery("test_operation", time.Now(), errors.New("boom"))
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framegrab.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	require.NoError(t, err)
	insertMovie(t, db, &Movie{Path: "/media/a.mkv"})
	require.NoError(t, db.Close())

	db, err = New(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	fps, err := db.GetFingerprints(ctx)
	require.NoError(t, err)
	assert.Len(t, fps, 1, "reopening keeps existing rows")
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framegrab.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	require.NoError(t, err)
	_, err = db.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(migrations)+1))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = New(ctx, path)
	assert.ErrorContains(t, err, "newer than this binary")
}

func TestDSN(t *testing.T) {
	got := dsn("/data/framegrab.db")
	assert.True(t, strings.HasPrefix(got, "/data/framegrab.db?"))
	assert.Contains(t, got, "_journal_mode=WAL")
	assert.Contains(t, got, "_foreign_keys=on")
}
