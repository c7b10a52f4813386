package screenshots

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"framegrab/internal/filesystem"
)

var screenshotName = regexp.MustCompile(`^(?:.*_)?screenshot(\d+)s\.(?:jpg|jpeg|png)$`)

// Layout owns the on-disk naming of screenshots under one root. It is
// passed to every component that needs a path; there is no package-level
// screenshot directory.
type Layout struct {
	root string
}

// NewLayout returns a Layout rooted at the canonical form of root.
func NewLayout(root string) (Layout, error) {
	canon, err := filesystem.Canonicalize(root)
	if err != nil {
		return Layout{}, fmt.Errorf("screenshot root: %w", err)
	}
	return Layout{root: canon}, nil
}

// Root returns the canonical screenshot root.
func (l Layout) Root() string { return l.root }

// MovieDir is the directory holding every screenshot of a movie.
func (l Layout) MovieDir(movieID int64) string {
	return filepath.Join(l.root, strconv.FormatInt(movieID, 10))
}

// ScreenshotPath is the deterministic destination for (movieID, timestamp).
func (l Layout) ScreenshotPath(movieID, timestamp int64) string {
	return filepath.Join(l.MovieDir(movieID), fmt.Sprintf("%d_screenshot%ds.jpg", movieID, timestamp))
}

// FallbackPath is the destination of the movie's fallback screenshot.
func (l Layout) FallbackPath(movieID int64) string {
	return filepath.Join(l.MovieDir(movieID), fmt.Sprintf("%d_fallback.jpg", movieID))
}

// PathFor returns ScreenshotPath, or FallbackPath for a nil timestamp.
func (l Layout) PathFor(movieID int64, timestamp *int64) string {
	if timestamp == nil {
		return l.FallbackPath(movieID)
	}
	return l.ScreenshotPath(movieID, *timestamp)
}

// IsFallback reports whether path is the movie's fallback file.
func (l Layout) IsFallback(movieID int64, path string) bool {
	return filesystem.SamePath(path, l.FallbackPath(movieID))
}

// RemoveMovieDir deletes a movie's screenshot directory and everything in it.
func (l Layout) RemoveMovieDir(movieID int64) error {
	return os.RemoveAll(l.MovieDir(movieID))
}

// ParseTimestamp extracts N from a "*_screenshot<N>s.jpg" file name.
func ParseTimestamp(name string) (int64, bool) {
	m := screenshotName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StagingPath is where a batch writes a frame before committing it to dest.
func StagingPath(dest, batchID string) string {
	return dest + "." + batchID + ".part"
}

// IsStagingName reports whether name was produced by StagingPath.
func IsStagingName(name string) bool {
	return strings.HasSuffix(name, ".part")
}
