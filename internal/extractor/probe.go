package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"framegrab/internal/filesystem"
	"framegrab/internal/metrics"
)

// VideoInfo is what ffprobe reports about a file.
type VideoInfo struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// VideoInfo runs ffprobe on path. Results are cached per
// (path, size, mtime) so a replaced file is read again.
func (e *Extractor) VideoInfo(ctx context.Context, path string) (*VideoInfo, error) {
	stat, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, &ExtractionError{Kind: KindSourceUnreadable, Video: path, Err: err}
	}
	if stat.IsDir() {
		return nil, &ExtractionError{Kind: KindSourceUnreadable, Video: path, Err: errors.New("is a directory")}
	}

	key := fmt.Sprintf("%s|%d|%d", path, stat.Size(), stat.ModTime().UnixNano())
	if v, ok := e.probeCache.Get(key); ok {
		metrics.ExtractorProbeCache.WithLabelValues("hit").Inc()
		info := v.(VideoInfo)
		return &info, nil
	}
	metrics.ExtractorProbeCache.WithLabelValues("miss").Inc()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := e.runner.Run(runCtx, e.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &ExtractionError{Kind: KindTimeout, Video: path, Err: fmt.Errorf("ffprobe: %w", runCtx.Err())}
		}
		return nil, &ExtractionError{Kind: KindSourceUnreadable, Video: path, Err: err}
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, &ExtractionError{Kind: KindSourceUnreadable, Video: path, Err: err}
	}

	e.probeCache.SetDefault(key, *info)
	return info, nil
}

func parseProbe(out []byte) (*VideoInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)

	for _, s := range p.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Codec = s.CodecName
		info.Width = s.Width
		info.Height = s.Height
		if info.Duration <= 0 {
			info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		break
	}

	if info.Codec == "" {
		return nil, errors.New("no video stream")
	}
	return info, nil
}
