package generator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
	"time"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/metrics"
	"framegrab/internal/screenshots"
	"framegrab/internal/subtitles"
	"framegrab/internal/workers"
)

// ErrInvalidRequest marks a generation request rejected before anything
// was queued.
var ErrInvalidRequest = errors.New("invalid generation request")

// fallbackPosition is where in the film the fallback frame is taken.
const fallbackPosition = 0.1

// batchRetention is how long a finished batch stays visible to Progress.
const batchRetention = time.Hour

// FrameExtractor renders single frames. *extractor.Extractor implements it.
type FrameExtractor interface {
	VideoInfo(ctx context.Context, path string) (*extractor.VideoInfo, error)
	Extract(ctx context.Context, videoPath string, timestampSeconds float64, destPath string, cue *subtitles.Cue) error
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	// AutoInterval, in seconds, makes HandleScanResult generate for new and
	// changed movies. 0 disables it.
	AutoInterval int
}

// Request asks for screenshots every IntervalSeconds, or every EveryMinutes.
// Exactly one of the two must be set.
type Request struct {
	MovieID         int64  `json:"-"`
	IntervalSeconds int    `json:"interval,omitempty"`
	EveryMinutes    int    `json:"everyMinutes,omitempty"`
	SubtitlePath    string `json:"subtitlePath,omitempty"`
}

// Queued is returned as soon as a batch is registered.
type Queued struct {
	BatchID string `json:"batchId"`
	Count   int    `json:"queued"`
}

// Progress reports how many timestamped screenshot rows exist for a movie
// and the state of its latest batch, if any. Count is comparable with
// Queued.Count; the fallback row is reported separately.
type Progress struct {
	MovieID     int64        `json:"movieId"`
	Count       int          `json:"count"`
	HasFallback bool         `json:"hasFallback"`
	Batch       *BatchStatus `json:"batch,omitempty"`
}

type job struct {
	batch     *batch
	video     string
	timestamp *int64
	seek      float64
	dest      string
	cue       *subtitles.Cue
}

// Generator turns generation requests into extraction jobs and commits
// their results through the screenshot store.
type Generator struct {
	cfg       Config
	db        *database.Database
	store     *screenshots.Store
	extractor FrameExtractor
	pool      *workers.Pool[job]

	ctx       context.Context
	cancel    context.CancelFunc
	producers sync.WaitGroup

	mu        sync.Mutex
	batches   map[int64]*batch
	fallbacks map[int64]*batch
	retention time.Duration
}

// New starts the worker pool. gate, normally the memory monitor, may be nil.
func New(cfg Config, db *database.Database, store *screenshots.Store, ext FrameExtractor, gate workers.Gate) *Generator {
	if cfg.Workers < 1 {
		cfg.Workers = workers.Extraction.Size(0, 8)
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers * 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Generator{
		cfg:       cfg,
		db:        db,
		store:     store,
		extractor: ext,
		ctx:       ctx,
		cancel:    cancel,
		batches:   make(map[int64]*batch),
		fallbacks: make(map[int64]*batch),
		retention: batchRetention,
	}
	g.pool = workers.NewPool(cfg.Workers, cfg.QueueSize, g.process, gate)

	logging.Info("Screenshot generator started: %d workers, queue size %d", cfg.Workers, cfg.QueueSize)
	return g
}

// Stop stops producers, drops queued jobs and waits for running extractions.
func (g *Generator) Stop() {
	g.cancel()
	g.producers.Wait()
	g.pool.Stop()
	logging.Info("Screenshot generator stopped")
}

// Generate replaces a movie's timestamped screenshots with a new batch at
// the requested interval. Any running batch for the movie is superseded and
// the existing rows and files are cleared before the new batch starts. The
// jobs run asynchronously; the returned count is how many were planned.
func (g *Generator) Generate(ctx context.Context, req Request) (Queued, error) {
	return g.generate(ctx, req, TriggerManual)
}

func (g *Generator) generate(ctx context.Context, req Request, trigger string) (Queued, error) {
	interval, err := req.interval()
	if err != nil {
		return Queued{}, err
	}

	movie, err := g.db.GetMovie(ctx, req.MovieID)
	if err != nil {
		return Queued{}, err
	}

	var track *subtitles.Track
	if req.SubtitlePath != "" {
		track, err = subtitles.Load(req.SubtitlePath)
		if err != nil {
			return Queued{}, fmt.Errorf("%w: subtitles: %w", ErrInvalidRequest, err)
		}
	}

	info, err := g.extractor.VideoInfo(ctx, movie.Path)
	if err != nil {
		return Queued{}, err
	}
	if info.Duration <= 0 {
		return Queued{}, fmt.Errorf("%w: %s has no known duration", ErrInvalidRequest, movie.Path)
	}

	count := countTimestamps(info.Duration, interval)

	g.mu.Lock()
	if old := g.batches[movie.ID]; old != nil {
		old.supersede()
		logging.Info("Superseding screenshot batch %s for movie %d", old.id, movie.ID)
	}
	cleared, err := g.store.Clear(ctx, movie.ID)
	if err != nil {
		delete(g.batches, movie.ID)
		g.mu.Unlock()
		return Queued{}, err
	}
	b := newBatch(g.ctx, movie.ID, trigger, count)
	g.batches[movie.ID] = b
	g.mu.Unlock()

	// Sync reads this back to caption frames it re-extracts.
	if err := g.db.SetSubtitlePath(ctx, movie.ID, req.SubtitlePath); err != nil {
		logging.Warn("Could not record subtitles of movie %d: %v", movie.ID, err)
	}

	metrics.GenerationBatchesTotal.WithLabelValues(trigger).Inc()
	logging.Info("Generating %d screenshots for movie %d (%s) every %ds, batch %s, %d old rows cleared",
		count, movie.ID, movie.Title, interval, b.id, cleared)

	layout := g.store.Layout()
	g.produce(b, func(yield func(job) bool) {
		for ts := range timestamps(info.Duration, interval) {
			j := job{
				batch:     b,
				video:     movie.Path,
				timestamp: &ts,
				seek:      float64(ts),
				dest:      layout.ScreenshotPath(movie.ID, ts),
				cue:       track.At(time.Duration(ts) * time.Second),
			}
			if !yield(j) {
				return
			}
		}
	})

	return Queued{BatchID: b.id, Count: count}, nil
}

// Cancel stops a movie's running batch. Queued jobs are skipped; jobs
// already extracting finish and are saved. It reports whether a running
// batch was found.
func (g *Generator) Cancel(movieID int64) bool {
	g.mu.Lock()
	b := g.batches[movieID]
	g.mu.Unlock()

	if b == nil || b.cancelled.Load() || b.finished() {
		return false
	}
	b.cancel()
	logging.Info("Cancelled screenshot batch %s for movie %d", b.id, movieID)
	return true
}

// Progress counts a movie's timestamped screenshot rows.
func (g *Generator) Progress(ctx context.Context, movieID int64) (Progress, error) {
	if _, err := g.db.GetMovie(ctx, movieID); err != nil {
		return Progress{}, err
	}

	count, hasFallback, err := g.store.Counts(ctx, movieID)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{MovieID: movieID, Count: count, HasFallback: hasFallback}
	g.mu.Lock()
	if b := g.batches[movieID]; b != nil {
		st := b.status()
		p.Batch = &st
	}
	g.mu.Unlock()
	return p, nil
}

// EnsureRepresentative queues a fallback frame for a movie that has neither
// a poster nor a fallback screenshot on disk. It reports whether a job was
// queued.
func (g *Generator) EnsureRepresentative(ctx context.Context, movieID int64) (bool, error) {
	movie, err := g.db.GetMovie(ctx, movieID)
	if err != nil {
		return false, err
	}

	if g.hasRepresentative(ctx, movie) {
		return false, nil
	}

	g.mu.Lock()
	if b := g.fallbacks[movieID]; b != nil && !b.finished() {
		g.mu.Unlock()
		return false, nil
	}
	g.mu.Unlock()

	info, err := g.extractor.VideoInfo(ctx, movie.Path)
	if err != nil {
		return false, err
	}

	b := newBatch(g.ctx, movieID, TriggerFallback, 1)
	g.mu.Lock()
	g.fallbacks[movieID] = b
	g.mu.Unlock()

	metrics.GenerationBatchesTotal.WithLabelValues(TriggerFallback).Inc()
	logging.Debug("Queueing fallback screenshot for movie %d (%s)", movieID, movie.Title)

	j := job{
		batch: b,
		video: movie.Path,
		seek:  info.Duration * fallbackPosition,
		dest:  g.store.Layout().FallbackPath(movieID),
	}
	g.produce(b, func(yield func(job) bool) { yield(j) })
	return true, nil
}

func (g *Generator) hasRepresentative(ctx context.Context, movie *database.Movie) bool {
	switch movie.Representative.Kind {
	case database.RefImage:
		ok, _ := filesystem.Exists(movie.Representative.ImagePath)
		return ok
	case database.RefScreenshot:
		shot, err := g.store.Get(ctx, movie.Representative.ScreenshotID)
		if err != nil {
			return false
		}
		ok, _ := filesystem.Exists(shot.Path)
		return ok
	default:
		return false
	}
}

// HandleScanResult generates screenshots for new and changed movies when
// auto generation is enabled, and makes sure each has a representative.
func (g *Generator) HandleScanResult(ctx context.Context, movies []database.Movie) {
	for _, m := range movies {
		if ctx.Err() != nil {
			return
		}

		if g.cfg.AutoInterval > 0 {
			_, err := g.generate(ctx, Request{MovieID: m.ID, IntervalSeconds: g.cfg.AutoInterval}, TriggerAuto)
			if err != nil {
				logging.Warn("Auto generation failed for movie %d (%s): %v", m.ID, m.Path, err)
			}
		}

		if _, err := g.EnsureRepresentative(ctx, m.ID); err != nil {
			logging.Warn("Could not queue fallback for movie %d (%s): %v", m.ID, m.Path, err)
		}
	}
}

// produce streams jobs into the pool from a goroutine, stopping early when
// the batch is cancelled.
func (g *Generator) produce(b *batch, jobs iter.Seq[job]) {
	g.producers.Add(1)
	go func() {
		defer g.producers.Done()
		defer func() {
			b.stop()
			b.produced.Store(true)
			g.settle(b)
		}()

		for j := range jobs {
			if err := g.pool.Submit(b.ctx, j); err != nil {
				logging.Debug("Stopped queueing batch %s for movie %d: %v", b.id, b.movieID, err)
				return
			}
			b.submitted.Add(1)
		}
	}()
}

// process is the pool handler: extract to a staging file, then commit.
func (g *Generator) process(ctx context.Context, j job) {
	b := j.batch
	defer g.settle(b)

	if b.cancelled.Load() {
		b.skipped.Add(1)
		metrics.JobsTotal.WithLabelValues("drained").Inc()
		return
	}

	staging := screenshots.StagingPath(j.dest, b.id)
	if err := g.extractor.Extract(ctx, j.video, j.seek, staging, j.cue); err != nil {
		_ = os.Remove(staging)
		b.failed.Add(1)
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		logging.Warn("Screenshot extraction failed: movie=%d at=%.1fs batch=%s: %v", b.movieID, j.seek, b.id, err)
		return
	}

	_, persisted, err := g.store.Commit(ctx, b.movieID, staging, j.dest, j.timestamp, b.superseded.Load)
	switch {
	case err != nil:
		b.failed.Add(1)
		metrics.JobsTotal.WithLabelValues("failed").Inc()
	case !persisted:
		b.skipped.Add(1)
		metrics.JobsTotal.WithLabelValues("discarded").Inc()
		logging.Debug("Discarded frame from superseded batch %s (movie %d)", b.id, b.movieID)
	default:
		b.done.Add(1)
		metrics.JobsTotal.WithLabelValues("persisted").Inc()
	}
}

// settle runs once when a batch's last job settles. It logs the outcome,
// forgets the batch if it was a fallback and evicts expired batches.
func (g *Generator) settle(b *batch) {
	if !b.finished() || !b.logged.CompareAndSwap(false, true) {
		return
	}
	now := time.Now()
	b.finishedAt.Store(now.UnixNano())

	st := b.status()
	logging.Info("Screenshot batch %s for movie %d %s: %d saved, %d failed, %d skipped in %v",
		st.ID, b.movieID, st.State, st.Done, st.Failed, st.Skipped, now.Sub(b.startedAt).Round(time.Millisecond))

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fallbacks[b.movieID] == b {
		delete(g.fallbacks, b.movieID)
	}
	g.evictFinished(now)
}

// evictFinished drops batches that finished more than g.retention ago.
// The caller holds g.mu.
func (g *Generator) evictFinished(now time.Time) {
	for movieID, b := range g.batches {
		at := b.finishedAt.Load()
		if at != 0 && now.Sub(time.Unix(0, at)) >= g.retention {
			delete(g.batches, movieID)
		}
	}
}

func (r Request) interval() (int64, error) {
	switch {
	case r.IntervalSeconds < 0 || r.EveryMinutes < 0:
		return 0, fmt.Errorf("%w: interval must be positive", ErrInvalidRequest)
	case r.IntervalSeconds > 0 && r.EveryMinutes > 0:
		return 0, fmt.Errorf("%w: set interval or everyMinutes, not both", ErrInvalidRequest)
	case r.IntervalSeconds > 0:
		return int64(r.IntervalSeconds), nil
	case r.EveryMinutes > 0:
		return int64(r.EveryMinutes) * 60, nil
	default:
		return 0, fmt.Errorf("%w: interval or everyMinutes is required", ErrInvalidRequest)
	}
}

// timestamps yields 0, interval, 2*interval, ... below duration.
func timestamps(duration float64, interval int64) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for ts := int64(0); float64(ts) < duration; ts += interval {
			if !yield(ts) {
				return
			}
		}
	}
}

func countTimestamps(duration float64, interval int64) int {
	n := 0
	for range timestamps(duration, interval) {
		n++
	}
	return n
}
