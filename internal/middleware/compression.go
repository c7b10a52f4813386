package middleware

import (
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// CompressionConfig decides which responses are gzipped.
type CompressionConfig struct {
	// MinSize is the smallest body, in bytes, worth compressing.
	MinSize int
	// CompressibleTypes are media types without parameters.
	CompressibleTypes []string
}

// DefaultCompressionConfig compresses JSON and text bodies of 1KB or more.
// Screenshots are JPEG and pass through untouched.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:           1024,
		CompressibleTypes: []string{"application/json", "text/plain"},
	}
}

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// acceptsGzip reports whether the Accept-Encoding header allows gzip with a
// non-zero quality.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		if q > 0 {
			return true
		}
	}
	return false
}

// gzipWriter holds back the first MinSize bytes of a body so small and
// incompressible responses go out unchanged.
type gzipWriter struct {
	http.ResponseWriter
	cfg     CompressionConfig
	status  int
	pending []byte
	started bool
	gz      *gzip.Writer
}

func (g *gzipWriter) WriteHeader(code int) {
	if !g.started {
		g.status = code
	}
}

func (g *gzipWriter) Write(p []byte) (int, error) {
	if g.started {
		if g.gz != nil {
			return g.gz.Write(p)
		}
		return g.ResponseWriter.Write(p)
	}
	g.pending = append(g.pending, p...)
	if len(g.pending) > g.cfg.MinSize {
		if err := g.start(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (g *gzipWriter) compressible() bool {
	mediaType, _, err := mime.ParseMediaType(g.Header().Get("Content-Type"))
	if err != nil {
		return false
	}
	for _, t := range g.cfg.CompressibleTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// start sends the status line and whatever is pending, choosing between
// plain and gzip output.
func (g *gzipWriter) start() error {
	if g.started {
		return nil
	}
	g.started = true
	body := g.pending
	g.pending = nil

	h := g.Header()
	if len(body) >= g.cfg.MinSize && h.Get("Content-Encoding") == "" && g.compressible() {
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		g.gz = gzipWriters.Get().(*gzip.Writer)
		g.gz.Reset(g.ResponseWriter)
		g.ResponseWriter.WriteHeader(g.status)
		_, err := g.gz.Write(body)
		return err
	}

	g.ResponseWriter.WriteHeader(g.status)
	_, err := g.ResponseWriter.Write(body)
	return err
}

func (g *gzipWriter) finish() error {
	err := g.start()
	if g.gz == nil {
		return err
	}
	if cerr := g.gz.Close(); err == nil {
		err = cerr
	}
	gzipWriters.Put(g.gz)
	g.gz = nil
	return err
}

func (g *gzipWriter) Flush() {
	_ = g.start()
	if g.gz != nil {
		_ = g.gz.Flush()
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Compression gzips eligible responses for clients that accept gzip.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
				next.ServeHTTP(w, r)
				return
			}
			gw := &gzipWriter{ResponseWriter: w, cfg: config, status: http.StatusOK}
			defer func() { _ = gw.finish() }()
			next.ServeHTTP(gw, r)
		})
	}
}
