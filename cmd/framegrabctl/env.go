package main

import (
	"context"
	"fmt"
	"os"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/generator"
	"framegrab/internal/indexer"
	"framegrab/internal/logging"
	"framegrab/internal/screenshots"
	"framegrab/internal/startup"
	"framegrab/internal/subtitles"
	"framegrab/internal/syncer"
)

// frameSource is what the generator and the syncer need from ffmpeg.
type frameSource interface {
	VideoInfo(ctx context.Context, path string) (*extractor.VideoInfo, error)
	Extract(ctx context.Context, videoPath string, timestampSeconds float64, destPath string, cue *subtitles.Cue) error
}

// newFrameSource is replaced in tests.
var newFrameSource = func(cfg *startup.Config) (frameSource, func(), error) {
	ext, err := extractor.New(extractor.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Timeout:     cfg.ExtractTimeout,
		JPEGQuality: cfg.JPEGQuality,
		FontPath:    cfg.FontPath,
	}, extractor.NewExecRunner())
	if err != nil {
		return nil, nil, err
	}
	return ext, ext.Cleanup, nil
}

// env is the set of components one command works with. Only the parts a
// command asks for are built.
type env struct {
	cfg     *startup.Config
	db      *database.Database
	store   *screenshots.Store
	frames  frameSource
	cleanup func()
	gen     *generator.Generator
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := startup.Load()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.DatabaseDir, cfg.ScreenshotDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := database.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	layout, err := screenshots.NewLayout(cfg.ScreenshotDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &env{cfg: cfg, db: db, store: screenshots.NewStore(db, layout)}, nil
}

func (e *env) extractor() (frameSource, error) {
	if e.frames != nil {
		return e.frames, nil
	}
	frames, cleanup, err := newFrameSource(e.cfg)
	if err != nil {
		return nil, err
	}
	e.frames, e.cleanup = frames, cleanup
	return frames, nil
}

func (e *env) generator() (*generator.Generator, error) {
	if e.gen != nil {
		return e.gen, nil
	}
	frames, err := e.extractor()
	if err != nil {
		return nil, err
	}
	e.gen = generator.New(generator.Config{
		Workers:   e.cfg.ExtractWorkers,
		QueueSize: e.cfg.QueueSize,
	}, e.db, e.store, frames, nil)
	return e.gen, nil
}

func (e *env) syncer() (*syncer.Engine, error) {
	frames, err := e.extractor()
	if err != nil {
		return nil, err
	}
	eng := syncer.New(e.db, e.store, frames)
	eng.SetStaleAfter(max(syncer.DefaultStaleAfter, 4*e.cfg.ExtractTimeout))
	return eng, nil
}

func (e *env) indexer() (*indexer.Indexer, error) {
	return indexer.New(e.db, indexer.Config{MediaDir: e.cfg.MediaDir})
}

func (e *env) close() {
	if e.gen != nil {
		e.gen.Stop()
	}
	if e.cleanup != nil {
		e.cleanup()
	}
	if err := e.db.Close(); err != nil {
		logging.Warn("failed to close database: %v", err)
	}
}
