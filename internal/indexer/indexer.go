package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"framegrab/internal/database"
	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

// Scan statuses reported in ScanProgress.
const (
	StatusIdle      = "idle"
	StatusWalking   = "walking"
	StatusIndexing  = "indexing"
	StatusCleanup   = "cleanup"
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// ErrScanInProgress is returned by Scan while another scan runs.
var ErrScanInProgress = errors.New("scan already in progress")

const defaultDebounce = 2 * time.Second

// Config configures an Indexer.
type Config struct {
	MediaDir string
	// Schedule is a cron expression for periodic scans; empty disables them.
	Schedule string
	// Watch enables fsnotify-triggered scans.
	Watch    bool
	Debounce time.Duration
	Walker   ParallelWalkerConfig
}

// ScanResult is what a scan changed. Removed holds ids of deleted movies.
type ScanResult struct {
	New       []database.Movie `json:"new"`
	Changed   []database.Movie `json:"changed"`
	Removed   []int64          `json:"removed"`
	Unchanged int              `json:"unchanged"`
}

// Touched returns the new and changed movies.
func (r ScanResult) Touched() []database.Movie {
	out := make([]database.Movie, 0, len(r.New)+len(r.Changed))
	out = append(out, r.New...)
	return append(out, r.Changed...)
}

// ScanProgress tracks the current scan
type ScanProgress struct {
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	CurrentFile string    `json:"currentFile,omitempty"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Indexer keeps the movies table in step with the media directory.
type Indexer struct {
	db   *database.Database
	cfg  Config
	root string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scanMu           sync.Mutex
	scanning         bool
	lastScan         time.Time
	initialScanDone  bool
	initialScanError error
	startTime        time.Time
	moviesIndexed    atomic.Int64

	progress   atomic.Value
	onProgress func(ScanProgress)
	onRemoved  func(ids []int64)
	onComplete func(ScanResult)

	cron    *cron.Cron
	watcher *fsnotify.Watcher
}

// New creates an Indexer for cfg.MediaDir.
func New(db *database.Database, cfg Config) (*Indexer, error) {
	root, err := filesystem.Canonicalize(cfg.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("media directory: %w", err)
	}
	if cfg.Walker.NumWorkers == 0 {
		cfg.Walker = DefaultParallelWalkerConfig()
	}
	if cfg.Walker.BatchSize < 1 {
		cfg.Walker.BatchSize = DefaultParallelWalkerConfig().BatchSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	idx := &Indexer{
		db:        db,
		cfg:       cfg,
		root:      root,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	idx.progress.Store(ScanProgress{Status: StatusIdle})
	return idx, nil
}

// SetProgressCallback sets a function called with every progress update.
// It may be called from several goroutines.
func (idx *Indexer) SetProgressCallback(fn func(ScanProgress)) { idx.onProgress = fn }

// SetOnMoviesRemoved sets a callback invoked with the ids of deleted movies.
func (idx *Indexer) SetOnMoviesRemoved(fn func(ids []int64)) { idx.onRemoved = fn }

// SetOnScanComplete sets a callback invoked after each completed scan.
func (idx *Indexer) SetOnScanComplete(fn func(ScanResult)) { idx.onComplete = fn }

// Root returns the canonical media directory.
func (idx *Indexer) Root() string { return idx.root }

// Start runs an initial scan in the background, then schedules periodic
// scans and starts the watcher as configured.
func (idx *Indexer) Start() error {
	if idx.cfg.Schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(idx.cfg.Schedule, func() { idx.runScan("scheduled") }); err != nil {
			return fmt.Errorf("invalid scan schedule %q: %w", idx.cfg.Schedule, err)
		}
		c.Start()
		idx.cron = c
		logging.Info("Scheduled library scans: %s", idx.cfg.Schedule)
	}

	if idx.cfg.Watch {
		if err := idx.startWatcher(); err != nil {
			logging.Warn("File watcher disabled: %v", err)
			metrics.ScannerWatcherErrors.Inc()
		}
	}

	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		logging.Info("Starting initial library scan in background...")
		_, err := idx.Scan(idx.ctx)
		idx.scanMu.Lock()
		idx.initialScanDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			idx.initialScanError = err
		}
		idx.scanMu.Unlock()
		if err != nil {
			logging.Error("Initial scan error: %v", err)
		}
	}()

	return nil
}

// Stop cancels a running scan, stops the schedule and the watcher, and
// waits for background work to finish.
func (idx *Indexer) Stop() {
	idx.cancel()
	if idx.cron != nil {
		<-idx.cron.Stop().Done()
	}
	if idx.watcher != nil {
		if err := idx.watcher.Close(); err != nil {
			logging.Warn("failed to close file watcher: %v", err)
		}
	}
	idx.wg.Wait()
}

// TriggerScan starts a scan in the background. It returns false if a scan
// is already running.
func (idx *Indexer) TriggerScan() bool {
	if idx.IsScanning() || idx.ctx.Err() != nil {
		return false
	}
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		idx.runScan("manual")
	}()
	return true
}

func (idx *Indexer) runScan(reason string) {
	logging.Debug("Library scan triggered (%s)", reason)
	_, err := idx.Scan(idx.ctx)
	switch {
	case err == nil, errors.Is(err, ErrScanInProgress), errors.Is(err, context.Canceled):
	default:
		logging.Error("%s scan failed: %v", reason, err)
	}
}

// Scan walks the media directory once and records new and changed movies,
// one transaction per batch. Movies whose files are gone are deleted only
// when the walk completed. A cancelled scan keeps what it already wrote.
func (idx *Indexer) Scan(ctx context.Context) (ScanResult, error) {
	if !idx.tryStartScan() {
		return ScanResult{}, ErrScanInProgress
	}
	defer idx.finishScan()

	metrics.ScannerRunning.Set(1)
	defer metrics.ScannerRunning.Set(0)

	startTime := time.Now()
	logging.Info("Starting library scan of %s", idx.root)
	idx.setProgress(ScanProgress{Status: StatusWalking, StartedAt: startTime})

	var result ScanResult

	walker := NewParallelWalker(idx.root, idx.cfg.Walker)
	var walked atomic.Int64
	walker.onFile = func(path string) {
		if n := walked.Add(1); n%50 == 0 {
			idx.setProgress(ScanProgress{Current: int(n), CurrentFile: path, Status: StatusWalking, StartedAt: startTime})
		}
	}

	files, complete, err := walker.Walk(ctx)
	if err != nil {
		return result, idx.failScan(startTime, fmt.Errorf("walk %s: %w", idx.root, err))
	}

	stored, err := idx.db.GetFingerprints(ctx)
	if err != nil {
		return result, idx.failScan(startTime, err)
	}

	var pending []*database.Movie
	isNew := make(map[string]bool)
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.path] = true
		fp := database.Fingerprint{Size: f.size, ModTime: f.modTime.Unix()}

		prev, ok := stored[f.path]
		switch {
		case !ok:
			isNew[f.path] = true
		case prev.Fingerprint != fp:
		default:
			result.Unchanged++
			continue
		}
		pending = append(pending, idx.movieFor(f))
	}
	metrics.ScannerFilesTotal.WithLabelValues("unchanged").Add(float64(result.Unchanged))

	batchErr := idx.writeBatches(ctx, pending, isNew, &result, startTime)

	if !complete || ctx.Err() != nil {
		idx.setProgress(ScanProgress{Current: len(result.New) + len(result.Changed), Total: len(pending), Status: StatusCancelled, StartedAt: startTime})
		metrics.ScannerRunsTotal.WithLabelValues(StatusCancelled).Inc()
		logging.Info("Library scan cancelled after %v: %d new, %d changed written", time.Since(startTime), len(result.New), len(result.Changed))
		return result, context.Canceled
	}

	idx.setProgress(ScanProgress{Current: len(pending), Total: len(pending), Status: StatusCleanup, StartedAt: startTime})
	if err := idx.removeMissing(ctx, stored, seen, &result); err != nil {
		batchErr = errors.Join(batchErr, err)
	}

	if batchErr != nil {
		return result, idx.failScan(startTime, batchErr)
	}

	idx.finalizeScan(startTime, len(files), result)
	return result, nil
}

func (idx *Indexer) movieFor(f foundFile) *database.Movie {
	title, year := parseTitle(f.name)
	m := &database.Movie{
		Path:    f.path,
		Name:    f.name,
		Title:   title,
		Year:    year,
		Size:    f.size,
		ModTime: f.modTime,
	}
	if poster := findPoster(f.path); poster != "" {
		m.Representative = database.ImageRef(poster)
	}
	return m
}

// writeBatches upserts pending movies in transactions of BatchSize. A failed
// batch is rolled back and logged; the others still commit.
func (idx *Indexer) writeBatches(ctx context.Context, pending []*database.Movie, isNew map[string]bool, result *ScanResult, startTime time.Time) error {
	var errs []error
	size := idx.cfg.Walker.BatchSize

	for i := 0; i < len(pending); i += size {
		if ctx.Err() != nil {
			break
		}

		end := min(i+size, len(pending))
		chunk := pending[i:end]

		if err := idx.processBatch(chunk); err != nil {
			logging.Error("Error writing scan batch %d-%d: %v", i, end, err)
			errs = append(errs, err)
			continue
		}

		for _, m := range chunk {
			if isNew[m.Path] {
				result.New = append(result.New, *m)
				metrics.ScannerFilesTotal.WithLabelValues("new").Inc()
			} else {
				result.Changed = append(result.Changed, *m)
				metrics.ScannerFilesTotal.WithLabelValues("changed").Inc()
			}
		}

		idx.setProgress(ScanProgress{
			Current:     end,
			Total:       len(pending),
			CurrentFile: chunk[len(chunk)-1].Path,
			Status:      StatusIndexing,
			StartedAt:   startTime,
		})
	}

	return errors.Join(errs...)
}

// processBatch writes a batch of movies in a single transaction.
func (idx *Indexer) processBatch(movies []*database.Movie) (err error) {
	b, err := idx.db.BeginBatch()
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		err = idx.db.EndBatch(b, err)
	}()

	for _, m := range movies {
		if err := idx.db.UpsertMovie(b, m); err != nil {
			return fmt.Errorf("upsert %s: %w", m.Path, err)
		}
	}
	return nil
}

// removeMissing deletes movies whose files were not seen by a full walk.
func (idx *Indexer) removeMissing(ctx context.Context, stored map[string]database.StoredFingerprint, seen map[string]bool, result *ScanResult) error {
	var ids []int64
	for path, fp := range stored {
		if !seen[path] {
			ids = append(ids, fp.MovieID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	deleted, err := idx.db.DeleteMovies(ctx, ids)
	if err != nil {
		return fmt.Errorf("delete removed movies: %w", err)
	}

	result.Removed = ids
	metrics.ScannerFilesTotal.WithLabelValues("removed").Add(float64(deleted))
	logging.Info("Removed %d missing movies from library", deleted)

	if idx.onRemoved != nil {
		idx.onRemoved(ids)
	}
	return nil
}

func (idx *Indexer) failScan(startTime time.Time, err error) error {
	idx.setProgress(ScanProgress{Status: StatusError, StartedAt: startTime})
	metrics.ScannerRunsTotal.WithLabelValues(StatusError).Inc()
	logging.Error("Library scan failed after %v: %v", time.Since(startTime), err)
	return err
}

// finalizeScan records a completed scan and fires the completion callback.
func (idx *Indexer) finalizeScan(startTime time.Time, total int, result ScanResult) {
	duration := time.Since(startTime)
	now := time.Now()

	idx.scanMu.Lock()
	idx.lastScan = now
	idx.scanMu.Unlock()
	idx.moviesIndexed.Store(int64(total))

	if err := idx.db.SetLastScan(idx.ctx, now); err != nil {
		logging.Warn("Failed to record last scan time: %v", err)
	}

	idx.setProgress(ScanProgress{Current: total, Total: total, Status: StatusComplete, StartedAt: startTime})

	metrics.ScannerRunsTotal.WithLabelValues(StatusComplete).Inc()
	metrics.ScannerLastRunTimestamp.Set(float64(now.Unix()))
	metrics.ScannerLastRunDuration.Set(duration.Seconds())

	logging.Info("Library scan complete: %d movies (%d new, %d changed, %d removed) in %v",
		total, len(result.New), len(result.Changed), len(result.Removed), duration)

	if idx.onComplete != nil {
		idx.onComplete(result)
	}
}

func (idx *Indexer) tryStartScan() bool {
	idx.scanMu.Lock()
	defer idx.scanMu.Unlock()

	if idx.scanning {
		return false
	}
	idx.scanning = true
	return true
}

func (idx *Indexer) finishScan() {
	idx.scanMu.Lock()
	defer idx.scanMu.Unlock()
	idx.scanning = false
}

func (idx *Indexer) setProgress(p ScanProgress) {
	idx.progress.Store(p)
	if idx.onProgress != nil {
		idx.onProgress(p)
	}
}

// GetProgress returns the latest scan progress.
func (idx *Indexer) GetProgress() ScanProgress {
	if p, ok := idx.progress.Load().(ScanProgress); ok {
		return p
	}
	return ScanProgress{Status: StatusIdle}
}

// IsScanning returns whether a scan is currently in progress.
func (idx *Indexer) IsScanning() bool {
	idx.scanMu.Lock()
	defer idx.scanMu.Unlock()
	return idx.scanning
}

// IsReady returns true once the initial scan has finished.
func (idx *Indexer) IsReady() bool {
	idx.scanMu.Lock()
	defer idx.scanMu.Unlock()
	return idx.initialScanDone
}

// LastScanTime returns the time of the last completed scan.
func (idx *Indexer) LastScanTime() time.Time {
	idx.scanMu.Lock()
	defer idx.scanMu.Unlock()
	return idx.lastScan
}

// HealthStatus contains health check information.
type HealthStatus struct {
	Ready            bool          `json:"ready"`
	Scanning         bool          `json:"scanning"`
	StartTime        time.Time     `json:"startTime"`
	Uptime           string        `json:"uptime"`
	LastScan         time.Time     `json:"lastScan,omitempty"`
	InitialScanError string        `json:"initialScanError,omitempty"`
	MoviesIndexed    int64         `json:"moviesIndexed"`
	ScanProgress     *ScanProgress `json:"scanProgress,omitempty"`
}

// GetHealthStatus returns detailed health information.
func (idx *Indexer) GetHealthStatus() HealthStatus {
	progress := idx.GetProgress()

	idx.scanMu.Lock()
	defer idx.scanMu.Unlock()

	status := HealthStatus{
		Ready:         idx.initialScanDone,
		Scanning:      idx.scanning,
		StartTime:     idx.startTime,
		Uptime:        time.Since(idx.startTime).Round(time.Second).String(),
		LastScan:      idx.lastScan,
		MoviesIndexed: idx.moviesIndexed.Load(),
	}
	if idx.scanning {
		status.ScanProgress = &progress
	}
	if idx.initialScanError != nil {
		status.InitialScanError = idx.initialScanError.Error()
	}
	return status
}

// relative returns path relative to the media root, for log lines.
func (idx *Indexer) relative(path string) string {
	if rel, err := filepath.Rel(idx.root, path); err == nil {
		return rel
	}
	return path
}
