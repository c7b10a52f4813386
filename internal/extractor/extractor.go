package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disintegration/imaging"
	"github.com/patrickmn/go-cache"

	_ "image/png"

	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/metrics"
	"framegrab/internal/subtitles"
)

// clampEpsilon is how far before the end a past-the-end timestamp seeks.
const clampEpsilon = 0.1

// Config configures an Extractor.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds every subprocess invocation.
	Timeout     time.Duration
	JPEGQuality int
	FontPath    string
	// RetryDelay is the pause before the single transient retry.
	RetryDelay time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Timeout:     60 * time.Second,
		JPEGQuality: 85,
		RetryDelay:  250 * time.Millisecond,
	}
}

// Extractor pulls single frames out of videos with ffmpeg.
type Extractor struct {
	cfg        Config
	runner     Runner
	probeCache *cache.Cache
	overlay    *overlay

	// compose is swapped in tests to exercise overlay failures.
	compose func(img image.Image, label, text string) (image.Image, error)
}

// New creates an Extractor. A nil runner uses os/exec.
func New(cfg Config, runner Runner) (*Extractor, error) {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if runner == nil {
		runner = NewExecRunner()
	}

	ov, err := newOverlay(cfg.FontPath)
	if err != nil {
		return nil, err
	}

	e := &Extractor{
		cfg:        cfg,
		runner:     runner,
		probeCache: cache.New(30*time.Minute, 10*time.Minute),
		overlay:    ov,
	}
	e.compose = ov.draw
	return e, nil
}

// Extract writes the frame at timestampSeconds of videoPath to destPath as
// a JPEG with a timestamp label and, if cue is set, its text. Timestamps
// past the end are clamped to just before the end. A timeout or a busy or
// full destination is retried once; nothing else is.
func (e *Extractor) Extract(ctx context.Context, videoPath string, timestampSeconds float64, destPath string, cue *subtitles.Cue) error {
	if timestampSeconds < 0 || math.IsNaN(timestampSeconds) || math.IsInf(timestampSeconds, 0) {
		return &ExtractionError{Kind: KindInvalidInput, Video: videoPath, Timestamp: timestampSeconds, Err: ErrInvalidTimestamp}
	}

	info, err := e.VideoInfo(ctx, videoPath)
	if err != nil {
		return withTimestamp(err, timestampSeconds)
	}

	seek := timestampSeconds
	if info.Duration > 0 && seek > info.Duration-clampEpsilon {
		seek = math.Max(info.Duration-clampEpsilon, 0)
		metrics.ExtractorTimestampClamps.Inc()
		logging.Warn("Timestamp %.3fs is past the end of %s (duration %.3fs), using %.3fs",
			timestampSeconds, videoPath, info.Duration, seek)
	}

	text := ""
	if cue != nil {
		text = cue.Text
	}

	start := time.Now()
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RetryDelay), 1), ctx)
	err = backoff.RetryNotify(func() error {
		err := e.extractOnce(ctx, videoPath, timestampSeconds, seek, destPath, text)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.ExtractorRetriesTotal.Inc()
		logging.Warn("Transient extraction failure, retrying in %v: %v", wait, err)
	})
	metrics.ExtractorDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.ExtractorInvocationsTotal.WithLabelValues("success").Inc()
	case KindOf(err) == KindTimeout:
		metrics.ExtractorInvocationsTotal.WithLabelValues("timeout").Inc()
	default:
		metrics.ExtractorInvocationsTotal.WithLabelValues("error").Inc()
	}
	return err
}

func (e *Extractor) extractOnce(ctx context.Context, videoPath string, requested, seek float64, destPath, text string) error {
	fail := func(kind Kind, err error) error {
		return &ExtractionError{Kind: kind, Video: videoPath, Timestamp: requested, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := e.runner.Run(runCtx, e.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fail(KindTimeout, fmt.Errorf("ffmpeg killed after %v: %w", e.cfg.Timeout, err))
		}
		return fail(KindToolFailed, err)
	}
	if len(out) == 0 {
		return fail(KindToolFailed, errors.New("ffmpeg produced no frame"))
	}

	frame, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return fail(KindToolFailed, fmt.Errorf("decode frame: %w", err))
	}

	frame = e.composite(frame, FormatLabel(seek), text, videoPath)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(e.cfg.JPEGQuality)); err != nil {
		return fail(KindToolFailed, fmt.Errorf("encode jpeg: %w", err))
	}

	if err := filesystem.WriteFileAtomic(destPath, buf.Bytes(), 0o644); err != nil {
		return fail(KindDestination, err)
	}

	st, err := os.Stat(destPath)
	if err != nil {
		return fail(KindDestination, err)
	}
	if st.Size() == 0 {
		return fail(KindDestination, errors.New("empty output file"))
	}
	return nil
}

// composite applies the overlay, returning the plain frame if drawing
// fails or panics.
func (e *Extractor) composite(frame image.Image, label, text, videoPath string) (out image.Image) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ExtractorOverlayFallbacks.Inc()
			logging.Warn("Overlay panicked for %s at %s, writing plain frame: %v", videoPath, label, r)
			out = frame
		}
	}()

	res, err := e.compose(frame, label, text)
	if err != nil {
		metrics.ExtractorOverlayFallbacks.Inc()
		logging.Warn("Overlay failed for %s at %s, writing plain frame: %v", videoPath, label, err)
		return frame
	}
	return res
}

// Cleanup kills subprocesses still running on shutdown.
func (e *Extractor) Cleanup() {
	if c, ok := e.runner.(interface{ Cleanup() }); ok {
		c.Cleanup()
	}
}

func withTimestamp(err error, ts float64) error {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		ee.Timestamp = ts
	}
	return err
}
