package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/mediatypes"
	"framegrab/internal/metrics"
)

// ParallelWalkerConfig configures the parallel directory walker
type ParallelWalkerConfig struct {
	// NumWorkers is the number of parallel workers
	NumWorkers int
	// BatchSize is the number of movies written per transaction
	BatchSize int
	// ChannelBuffer is the size of the work channel buffer
	ChannelBuffer int
	// SkipHidden skips files and directories starting with "."
	SkipHidden bool
}

// DefaultParallelWalkerConfig returns sensible defaults based on available resources
func DefaultParallelWalkerConfig() ParallelWalkerConfig {
	// 3 workers is safe for NFS and still fast on local disks.
	numWorkers := 3
	if override := os.Getenv("INDEX_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			numWorkers = count
		}
	}

	return ParallelWalkerConfig{
		NumWorkers:    numWorkers,
		BatchSize:     200,
		ChannelBuffer: 1000,
		SkipHidden:    true,
	}
}

// foundFile is a video file seen during a walk.
type foundFile struct {
	path    string // canonical
	name    string
	size    int64
	modTime time.Time
}

type fileJob struct {
	path string
	info os.FileInfo
}

// ParallelWalker walks the media root, stats and canonicalizes video files
// on a pool of workers.
type ParallelWalker struct {
	config ParallelWalkerConfig
	root   string

	jobs    chan fileJob
	results chan foundFile

	wg sync.WaitGroup

	onFile func(path string)

	filesFound  atomic.Int64
	errorsCount atomic.Int64
}

// NewParallelWalker creates a new parallel directory walker
func NewParallelWalker(root string, config ParallelWalkerConfig) *ParallelWalker {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	return &ParallelWalker{
		config:  config,
		root:    root,
		jobs:    make(chan fileJob, config.ChannelBuffer),
		results: make(chan foundFile, config.ChannelBuffer),
	}
}

// Walk returns every video file under the root. complete is false when ctx
// was cancelled before the tree was fully visited; the files found so far
// are still returned.
func (pw *ParallelWalker) Walk(ctx context.Context) (files []foundFile, complete bool, err error) {
	logging.Debug("Starting parallel directory walk with %d workers", pw.config.NumWorkers)
	startTime := time.Now()

	metrics.ScannerParallelWorkers.Set(float64(pw.config.NumWorkers))

	for i := 0; i < pw.config.NumWorkers; i++ {
		pw.wg.Add(1)
		go pw.worker(ctx)
	}

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for f := range pw.results {
			files = append(files, f)
		}
	}()

	err = pw.walkAndEnqueue(ctx)

	close(pw.jobs)
	pw.wg.Wait()
	close(pw.results)
	collectorWg.Wait()

	complete = err == nil && ctx.Err() == nil
	logging.Debug("Parallel walk finished: %d video files in %v (errors: %d, complete: %v)",
		pw.filesFound.Load(), time.Since(startTime), pw.errorsCount.Load(), complete)

	return files, complete, err
}

// walkAndEnqueue walks the directory tree and sends jobs to workers
func (pw *ParallelWalker) walkAndEnqueue(ctx context.Context) error {
	return filepath.WalkDir(pw.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}

		if err != nil {
			if path == pw.root {
				return err
			}
			logging.Warn("Error accessing path %s: %v", path, err)
			pw.errorsCount.Add(1)
			return nil
		}

		if path != pw.root && pw.config.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !mediatypes.IsVideo(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logging.Warn("Error getting info for %s: %v", path, err)
			pw.errorsCount.Add(1)
			return nil
		}

		select {
		case pw.jobs <- fileJob{path: path, info: info}:
		case <-ctx.Done():
			return fs.SkipAll
		}
		return nil
	})
}

func (pw *ParallelWalker) worker(ctx context.Context) {
	defer pw.wg.Done()

	for job := range pw.jobs {
		if ctx.Err() != nil {
			continue
		}

		canon, err := filesystem.Canonicalize(job.path)
		if err != nil {
			logging.Warn("Cannot canonicalize %s: %v", job.path, err)
			pw.errorsCount.Add(1)
			continue
		}

		pw.filesFound.Add(1)
		if pw.onFile != nil {
			pw.onFile(canon)
		}
		pw.results <- foundFile{
			path:    canon,
			name:    job.info.Name(),
			size:    job.info.Size(),
			modTime: job.info.ModTime(),
		}
	}
}

// Stats returns how many video files were found and how many entries failed.
func (pw *ParallelWalker) Stats() (files, errors int64) {
	return pw.filesFound.Load(), pw.errorsCount.Load()
}
