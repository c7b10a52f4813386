package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/filesystem"
	"framegrab/internal/screenshots"
	"framegrab/internal/subtitles"
)

// =============================================================================
// Fakes and fixtures
// =============================================================================

type fakeExtractor struct {
	duration float64

	mu    sync.Mutex
	calls []float64
	cues  []*subtitles.Cue
	fail  map[float64]error
	// hook runs before the frame is written; n counts Extract calls from 1.
	hook func(n int, seek float64)
}

func (f *fakeExtractor) VideoInfo(_ context.Context, path string) (*extractor.VideoInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &extractor.ExtractionError{Kind: extractor.KindSourceUnreadable, Video: path, Err: err}
	}
	return &extractor.VideoInfo{Duration: f.duration, Width: 320, Height: 180}, nil
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, seek float64, dest string, cue *subtitles.Cue) error {
	f.mu.Lock()
	f.calls = append(f.calls, seek)
	f.cues = append(f.cues, cue)
	n := len(f.calls)
	err := f.fail[seek]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(n, seek)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("jpeg"), 0o644)
}

func (f *fakeExtractor) seeks() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type fixture struct {
	gen   *Generator
	db    *database.Database
	store *screenshots.Store
	movie *database.Movie
	fake  *fakeExtractor
}

func newFixture(t *testing.T, cfg Config, fake *fakeExtractor) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	video := filepath.Join(t.TempDir(), "Heat (1995).mkv")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))
	canon, err := filesystem.Canonicalize(video)
	require.NoError(t, err)

	b, err := db.BeginBatch()
	require.NoError(t, err)
	m := &database.Movie{Path: canon, Name: "Heat (1995).mkv", Title: "Heat", Year: 1995, Size: 5, ModTime: time.Now()}
	err = db.UpsertMovie(b, m)
	require.NoError(t, db.EndBatch(b, err))

	layout, err := screenshots.NewLayout(t.TempDir())
	require.NoError(t, err)
	store := screenshots.NewStore(db, layout)

	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 4
	}
	gen := New(cfg, db, store, fake, nil)
	t.Cleanup(gen.Stop)

	return fixture{gen: gen, db: db, store: store, movie: m, fake: fake}
}

func (fx fixture) timestamps(t *testing.T) []int64 {
	t.Helper()
	shots, err := fx.store.List(context.Background(), fx.movie.ID)
	require.NoError(t, err)

	var out []int64
	for _, s := range shots {
		if s.Timestamp != nil {
			out = append(out, *s.Timestamp)
		}
	}
	return out
}

func (fx fixture) waitBatch(t *testing.T) BatchStatus {
	t.Helper()
	var st BatchStatus
	require.Eventually(t, func() bool {
		p, err := fx.gen.Progress(context.Background(), fx.movie.ID)
		if err != nil || p.Batch == nil {
			return false
		}
		st = *p.Batch
		return st.Finished
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

// =============================================================================
// Generate
// =============================================================================

func TestGenerate_IntervalTimestamps(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})

	q, err := fx.gen.Generate(context.Background(), Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	assert.Equal(t, 5, q.Count)
	assert.NotEmpty(t, q.BatchID)

	st := fx.waitBatch(t)
	assert.Equal(t, StateComplete, st.State)
	assert.Equal(t, 5, st.Done)
	assert.Equal(t, []int64{0, 120, 240, 360, 480}, fx.timestamps(t))

	p, err := fx.gen.Progress(context.Background(), fx.movie.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Count)

	// No staging files survive.
	entries, err := os.ReadDir(fx.store.Layout().MovieDir(fx.movie.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestGenerate_EveryMinutes(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})

	q, err := fx.gen.Generate(context.Background(), Request{MovieID: fx.movie.ID, EveryMinutes: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, q.Count)
}

func TestGenerate_InvalidRequests(t *testing.T) {
	fake := &fakeExtractor{duration: 600}
	fx := newFixture(t, Config{}, fake)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no interval", Request{MovieID: fx.movie.ID}, ErrInvalidRequest},
		{"negative interval", Request{MovieID: fx.movie.ID, IntervalSeconds: -5}, ErrInvalidRequest},
		{"both intervals", Request{MovieID: fx.movie.ID, IntervalSeconds: 10, EveryMinutes: 1}, ErrInvalidRequest},
		{"missing subtitles", Request{MovieID: fx.movie.ID, IntervalSeconds: 10, SubtitlePath: "/nonexistent.srt"}, ErrInvalidRequest},
		{"unknown movie", Request{MovieID: 9999, IntervalSeconds: 10}, database.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.gen.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, fake.seeks())
}

func TestGenerate_UnreadableVideo(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})
	require.NoError(t, os.Remove(fx.movie.Path))

	_, err := fx.gen.Generate(context.Background(), Request{MovieID: fx.movie.ID, IntervalSeconds: 60})
	assert.Equal(t, extractor.KindSourceUnreadable, extractor.KindOf(err))
}

func TestGenerate_SubtitleCues(t *testing.T) {
	fake := &fakeExtractor{duration: 300}
	fx := newFixture(t, Config{Workers: 1}, fake)

	srt := filepath.Join(t.TempDir(), "heat.srt")
	require.NoError(t, os.WriteFile(srt, []byte("1\n00:01:59,000 --> 00:02:01,000\nHello\n"), 0o644))

	_, err := fx.gen.Generate(context.Background(), Request{MovieID: fx.movie.ID, IntervalSeconds: 120, SubtitlePath: srt})
	require.NoError(t, err)
	fx.waitBatch(t)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	var texts []string
	for _, c := range fake.cues {
		if c != nil {
			texts = append(texts, c.Text)
		}
	}
	assert.Equal(t, []string{"Hello"}, texts)
}

func TestGenerate_RecordsSubtitlePath(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 300})
	ctx := context.Background()

	srt := filepath.Join(t.TempDir(), "heat.srt")
	require.NoError(t, os.WriteFile(srt, []byte("1\n00:00:01,000 --> 00:00:02,000\nHi\n"), 0o644))

	_, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120, SubtitlePath: srt})
	require.NoError(t, err)
	fx.waitBatch(t)
	got, err := fx.db.GetSubtitlePath(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.Equal(t, srt, got)

	_, err = fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	fx.waitBatch(t)
	got, err = fx.db.GetSubtitlePath(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.Empty(t, got, "a batch without subtitles clears the record")
}

func TestGenerate_RegenerateReplacesRows(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})
	ctx := context.Background()

	_, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	fx.waitBatch(t)
	require.Len(t, fx.timestamps(t), 5)

	_, err = fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 300})
	require.NoError(t, err)
	fx.waitBatch(t)

	assert.Equal(t, []int64{0, 300}, fx.timestamps(t))
	_, err = os.Stat(fx.store.Layout().ScreenshotPath(fx.movie.ID, 120))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerate_SupersededResultsAreDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeExtractor{duration: 600}
	fake.hook = func(n int, _ float64) {
		if n == 1 {
			close(started)
			<-release
		}
	}
	fx := newFixture(t, Config{Workers: 1, QueueSize: 1}, fake)
	ctx := context.Background()

	first, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	<-started

	second, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 250})
	require.NoError(t, err)
	assert.NotEqual(t, first.BatchID, second.BatchID)
	close(release)

	st := fx.waitBatch(t)
	assert.Equal(t, second.BatchID, st.ID)
	assert.Equal(t, StateComplete, st.State)
	assert.Equal(t, []int64{0, 250, 500}, fx.timestamps(t))

	entries, err := os.ReadDir(fx.store.Layout().MovieDir(fx.movie.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCancel_DrainsQueueAndKeepsInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeExtractor{duration: 600}
	fake.hook = func(n int, _ float64) {
		if n == 1 {
			close(started)
			<-release
		}
	}
	fx := newFixture(t, Config{Workers: 1, QueueSize: 2}, fake)

	q, err := fx.gen.Generate(context.Background(), Request{MovieID: fx.movie.ID, IntervalSeconds: 60})
	require.NoError(t, err)
	require.Equal(t, 10, q.Count)
	<-started

	assert.True(t, fx.gen.Cancel(fx.movie.ID))
	assert.False(t, fx.gen.Cancel(fx.movie.ID))
	close(release)

	st := fx.waitBatch(t)
	assert.Equal(t, StateCancelled, st.State)
	assert.Equal(t, 1, st.Done)
	assert.Positive(t, st.Skipped)

	assert.Equal(t, []int64{0}, fx.timestamps(t))
	assert.Len(t, fake.seeks(), 1)
}

func TestCancel_NoBatch(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})
	assert.False(t, fx.gen.Cancel(fx.movie.ID))
}

func TestOneFailureDoesNotAbortSiblings(t *testing.T) {
	fake := &fakeExtractor{
		duration: 600,
		fail:     map[float64]error{240: &extractor.ExtractionError{Kind: extractor.KindToolFailed, Err: errors.New("exit 1")}},
	}
	fx := newFixture(t, Config{}, fake)

	_, err := fx.gen.Generate(context.Background(), Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)

	st := fx.waitBatch(t)
	assert.Equal(t, 4, st.Done)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, []int64{0, 120, 360, 480}, fx.timestamps(t))
}

func TestTwoWorkersSameTimestampLeaveOneRow(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	fake := &fakeExtractor{duration: 600}
	fake.hook = func(int, float64) {
		// Both workers extract before either commits.
		wg.Done()
		wg.Wait()
	}
	fx := newFixture(t, Config{Workers: 2}, fake)

	ts := int64(120)
	dest := fx.store.Layout().ScreenshotPath(fx.movie.ID, ts)
	var batches []*batch
	for range 2 {
		b := newBatch(context.Background(), fx.movie.ID, TriggerManual, 1)
		batches = append(batches, b)
		j := job{batch: b, video: fx.movie.Path, timestamp: &ts, seek: 120, dest: dest}
		fx.gen.produce(b, func(yield func(job) bool) { yield(j) })
	}

	for _, b := range batches {
		require.Eventually(t, b.finished, 5*time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), b.done.Load())
	}
	assert.Equal(t, []int64{120}, fx.timestamps(t))

	n, err := fx.store.Count(context.Background(), fx.movie.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// Representatives
// =============================================================================

func TestEnsureRepresentative_QueuesFallback(t *testing.T) {
	fake := &fakeExtractor{duration: 600}
	fx := newFixture(t, Config{}, fake)
	ctx := context.Background()

	queued, err := fx.gen.EnsureRepresentative(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.True(t, queued)

	require.Eventually(t, func() bool {
		m, err := fx.db.GetMovie(ctx, fx.movie.ID)
		return err == nil && m.Representative.Kind == database.RefScreenshot
	}, 5*time.Second, 5*time.Millisecond)

	seeks := fake.seeks()
	require.Len(t, seeks, 1)
	assert.InDelta(t, 60, seeks[0], 0.001)
	_, err = os.Stat(fx.store.Layout().FallbackPath(fx.movie.ID))
	require.NoError(t, err)

	queued, err = fx.gen.EnsureRepresentative(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestEnsureRepresentative_PosterWins(t *testing.T) {
	fake := &fakeExtractor{duration: 600}
	fx := newFixture(t, Config{}, fake)

	poster := filepath.Join(filepath.Dir(fx.movie.Path), "poster.jpg")
	require.NoError(t, os.WriteFile(poster, []byte("img"), 0o644))

	b, err := fx.db.BeginBatch()
	require.NoError(t, err)
	fx.movie.Representative = database.ImageRef(poster)
	err = fx.db.UpsertMovie(b, fx.movie)
	require.NoError(t, fx.db.EndBatch(b, err))

	queued, err := fx.gen.EnsureRepresentative(context.Background(), fx.movie.ID)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Empty(t, fake.seeks())
}

func TestHandleScanResult_AutoInterval(t *testing.T) {
	fx := newFixture(t, Config{AutoInterval: 300}, &fakeExtractor{duration: 600})
	ctx := context.Background()

	fx.gen.HandleScanResult(ctx, []database.Movie{*fx.movie})

	require.Eventually(t, func() bool {
		n, err := fx.store.Count(ctx, fx.movie.ID)
		return err == nil && n == 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 300}, fx.timestamps(t))
}

func TestHandleScanResult_NoAutoInterval(t *testing.T) {
	fake := &fakeExtractor{duration: 600}
	fx := newFixture(t, Config{}, fake)
	ctx := context.Background()

	fx.gen.HandleScanResult(ctx, []database.Movie{*fx.movie})

	require.Eventually(t, func() bool {
		n, err := fx.store.Count(ctx, fx.movie.ID)
		return err == nil && n == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, fx.timestamps(t))
}

func TestProgress_CountExcludesFallback(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})
	ctx := context.Background()

	queued, err := fx.gen.EnsureRepresentative(ctx, fx.movie.ID)
	require.NoError(t, err)
	require.True(t, queued)
	require.Eventually(t, func() bool {
		p, err := fx.gen.Progress(ctx, fx.movie.ID)
		return err == nil && p.HasFallback
	}, 5*time.Second, 5*time.Millisecond)

	q, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	fx.waitBatch(t)

	p, err := fx.gen.Progress(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Count, p.Count)
	assert.Equal(t, 5, p.Count)
	assert.True(t, p.HasFallback)

	n, err := fx.store.Count(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

// =============================================================================
// Batch bookkeeping
// =============================================================================

func (fx fixture) tracked() (batches, fallbacks int) {
	fx.gen.mu.Lock()
	defer fx.gen.mu.Unlock()
	return len(fx.gen.batches), len(fx.gen.fallbacks)
}

func TestSettle_ForgetsFinishedFallback(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})

	queued, err := fx.gen.EnsureRepresentative(context.Background(), fx.movie.ID)
	require.NoError(t, err)
	require.True(t, queued)

	require.Eventually(t, func() bool {
		_, fallbacks := fx.tracked()
		return fallbacks == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSettle_KeepsLatestBatchUntilRetentionExpires(t *testing.T) {
	fx := newFixture(t, Config{}, &fakeExtractor{duration: 600})
	ctx := context.Background()

	_, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 300})
	require.NoError(t, err)
	first := fx.waitBatch(t)

	q, err := fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	st := fx.waitBatch(t)
	assert.NotEqual(t, first.ID, st.ID)
	assert.Equal(t, q.BatchID, st.ID)

	batches, _ := fx.tracked()
	assert.Equal(t, 1, batches, "one status per movie")

	// With no retention the next batch to settle evicts itself.
	fx.gen.mu.Lock()
	fx.gen.retention = 0
	fx.gen.mu.Unlock()

	_, err = fx.gen.Generate(ctx, Request{MovieID: fx.movie.ID, IntervalSeconds: 120})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		batches, _ := fx.tracked()
		return batches == 0
	}, 5*time.Second, 5*time.Millisecond)

	p, err := fx.gen.Progress(ctx, fx.movie.ID)
	require.NoError(t, err)
	assert.Nil(t, p.Batch)
	assert.Equal(t, 5, p.Count)
}

// =============================================================================
// Helpers
// =============================================================================

func TestCountTimestamps(t *testing.T) {
	tests := []struct {
		duration float64
		interval int64
		want     int
	}{
		{600, 120, 5},
		{600.5, 120, 6},
		{599.9, 120, 5},
		{0.5, 120, 1},
		{0, 120, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, countTimestamps(tt.duration, tt.interval), "duration=%v interval=%d", tt.duration, tt.interval)
	}
}

func TestRequestInterval(t *testing.T) {
	got, err := Request{EveryMinutes: 3}.interval()
	require.NoError(t, err)
	assert.Equal(t, int64(180), got)

	got, err = Request{IntervalSeconds: 45}.interval()
	require.NoError(t, err)
	assert.Equal(t, int64(45), got)
}
