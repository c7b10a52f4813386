package database

import "time"

// RefKind tags the variant held by a MediaRef.
type RefKind string

const (
	// RefNone means the movie has no representative image.
	RefNone RefKind = "none"
	// RefImage points at a poster file discovered next to the movie.
	RefImage RefKind = "image"
	// RefScreenshot points at the movie's fallback screenshot row.
	RefScreenshot RefKind = "screenshot"
)

// MediaRef is the representative image of a movie. Exactly the field that
// matches Kind is meaningful.
type MediaRef struct {
	Kind         RefKind `json:"kind"`
	ImagePath    string  `json:"-"`
	ScreenshotID int64   `json:"screenshotId,omitempty"`
}

// NoRef returns the empty reference.
func NoRef() MediaRef { return MediaRef{Kind: RefNone} }

// ImageRef returns a reference to a poster file.
func ImageRef(path string) MediaRef { return MediaRef{Kind: RefImage, ImagePath: path} }

// ScreenshotRef returns a reference to a screenshot row.
func ScreenshotRef(id int64) MediaRef { return MediaRef{Kind: RefScreenshot, ScreenshotID: id} }

// IsSet reports whether the reference points at anything.
func (r MediaRef) IsSet() bool {
	switch r.Kind {
	case RefImage:
		return r.ImagePath != ""
	case RefScreenshot:
		return r.ScreenshotID != 0
	default:
		return false
	}
}

// Movie is one indexed video file.
type Movie struct {
	ID              int64     `json:"id"`
	Path            string    `json:"-"`
	Name            string    `json:"name"`
	Title           string    `json:"title"`
	Year            int       `json:"year,omitempty"`
	Size            int64     `json:"size"`
	ModTime         time.Time `json:"modTime"`
	Representative  MediaRef  `json:"representative"`
	ScreenshotCount int       `json:"screenshotCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Fingerprint returns the movie's scan fingerprint.
func (m *Movie) Fingerprint() Fingerprint {
	return Fingerprint{Size: m.Size, ModTime: m.ModTime.Unix()}
}

// Fingerprint is the cheap change detector stored per movie.
type Fingerprint struct {
	Size    int64
	ModTime int64
}

// StoredFingerprint is a fingerprint keyed to its movie row.
type StoredFingerprint struct {
	MovieID int64
	Fingerprint
}

// Screenshot is one extracted frame. A nil Timestamp marks the single
// fallback screenshot of a movie.
type Screenshot struct {
	ID        int64     `json:"id"`
	MovieID   int64     `json:"movieId"`
	Path      string    `json:"-"`
	Timestamp *int64    `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsFallback reports whether s is the movie's fallback screenshot.
func (s *Screenshot) IsFallback() bool {
	return s.Timestamp == nil
}

// LibraryStats summarizes the database contents.
type LibraryStats struct {
	TotalMovies              int       `json:"totalMovies"`
	TotalScreenshots         int       `json:"totalScreenshots"`
	MoviesWithoutScreenshots int       `json:"moviesWithoutScreenshots"`
	LastScan                 time.Time `json:"lastScan"`
}
