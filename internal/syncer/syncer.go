package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/filesystem"
	"framegrab/internal/logging"
	"framegrab/internal/metrics"
	"framegrab/internal/screenshots"
	"framegrab/internal/subtitles"
)

// fallbackPosition matches where the generator takes fallback frames.
const fallbackPosition = 0.1

// DefaultStaleAfter is the age at which a staging or temp file is taken to
// belong to a batch that no longer runs.
const DefaultStaleAfter = 10 * time.Minute

// FrameExtractor renders single frames. *extractor.Extractor implements it.
type FrameExtractor interface {
	VideoInfo(ctx context.Context, path string) (*extractor.VideoInfo, error)
	Extract(ctx context.Context, videoPath string, timestampSeconds float64, destPath string, cue *subtitles.Cue) error
}

// SyncReport lists what one sync found and did. Orphaned and Discarded
// hold file names relative to the movie's screenshot directory; the rest
// are row ids. Discarded files were deleted: duplicates of a timestamp that
// already has a file, and stale staging or temp files.
type SyncReport struct {
	MovieID   int64    `json:"movieId"`
	Orphaned  []string `json:"orphaned"`
	Missing   []int64  `json:"missing"`
	Synced    []int64  `json:"synced"`
	Restored  []int64  `json:"restored"`
	Removed   []int64  `json:"removed"`
	Discarded []string `json:"discarded"`
}

// Clean reports whether the sync found nothing to fix.
func (r *SyncReport) Clean() bool {
	return len(r.Orphaned) == 0 && len(r.Missing) == 0 && len(r.Discarded) == 0
}

// Engine reconciles screenshot rows with the files on disk.
type Engine struct {
	db        *database.Database
	store     *screenshots.Store
	layout    screenshots.Layout
	extractor FrameExtractor

	staleAfter time.Duration
}

// New creates an Engine. All writes go through store.
func New(db *database.Database, store *screenshots.Store, ext FrameExtractor) *Engine {
	return &Engine{
		db:         db,
		store:      store,
		layout:     store.Layout(),
		extractor:  ext,
		staleAfter: DefaultStaleAfter,
	}
}

// SetStaleAfter changes the age at which staging and temp files are
// deleted. It must be longer than any extraction can run.
func (e *Engine) SetStaleAfter(d time.Duration) {
	if d > 0 {
		e.staleAfter = d
	}
}

// orphan is a screenshot-named file without a row. A duplicate shares its
// timestamp with a row that has a file, or with another orphan that was
// picked instead.
type orphan struct {
	path          string
	timestamp     *int64
	deterministic bool
	duplicate     bool
}

// dirScan is what a sync finds in a movie's screenshot directory.
type dirScan struct {
	orphans   []orphan
	leftovers []string
}

// FindOrphanedFiles returns canonical paths of screenshot files in the
// movie's directory that no row points at, sorted. Sync adopts one file per
// timestamp that has no file yet and deletes the rest.
func (e *Engine) FindOrphanedFiles(ctx context.Context, movieID int64) ([]string, error) {
	scan, err := e.scanDir(ctx, movieID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(scan.orphans))
	for i, o := range scan.orphans {
		out[i] = o.path
	}
	return out, nil
}

// scanDir classifies the files in a movie's screenshot directory. Files
// that are neither screenshots nor leftovers are ignored.
func (e *Engine) scanDir(ctx context.Context, movieID int64) (dirScan, error) {
	dir := e.layout.MovieDir(movieID)
	entries, err := filesystem.ReadDirWithRetry(dir, filesystem.DefaultRetryConfig())
	if errors.Is(err, os.ErrNotExist) {
		return dirScan{}, nil
	}
	if err != nil {
		return dirScan{}, fmt.Errorf("read %s: %w", dir, err)
	}

	rows, err := e.store.List(ctx, movieID)
	if err != nil {
		return dirScan{}, err
	}

	byPath := make(map[string]bool, len(rows))
	covered := make(map[string]bool, len(rows))
	for _, r := range rows {
		byPath[r.Path] = true
		if ok, _ := filesystem.Exists(r.Path); ok {
			covered[timestampKey(r.Timestamp)] = true
		}
	}

	var scan dirScan
	now := time.Now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path, err := filesystem.Canonicalize(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		if filesystem.IsTempName(entry.Name()) || screenshots.IsStagingName(entry.Name()) {
			if info, err := entry.Info(); err == nil && now.Sub(info.ModTime()) >= e.staleAfter {
				scan.leftovers = append(scan.leftovers, path)
			}
			continue
		}

		var ts *int64
		if !e.layout.IsFallback(movieID, path) {
			v, ok := screenshots.ParseTimestamp(entry.Name())
			if !ok {
				continue
			}
			ts = &v
		}

		if byPath[path] {
			continue
		}
		scan.orphans = append(scan.orphans, orphan{
			path:          path,
			timestamp:     ts,
			deterministic: filesystem.SamePath(path, e.layout.PathFor(movieID, ts)),
		})
	}

	// One orphan per uncovered timestamp is kept, the one at the
	// deterministic path if present.
	slices.SortFunc(scan.orphans, func(a, b orphan) int {
		if a.deterministic != b.deterministic {
			if a.deterministic {
				return -1
			}
			return 1
		}
		return strings.Compare(a.path, b.path)
	})
	for i := range scan.orphans {
		key := timestampKey(scan.orphans[i].timestamp)
		if covered[key] {
			scan.orphans[i].duplicate = true
			continue
		}
		covered[key] = true
	}

	slices.SortFunc(scan.orphans, func(a, b orphan) int { return strings.Compare(a.path, b.path) })
	slices.Sort(scan.leftovers)
	return scan, nil
}

// FindMissingFiles returns the movie's rows whose files are gone.
func (e *Engine) FindMissingFiles(ctx context.Context, movieID int64) ([]database.Screenshot, error) {
	rows, err := e.store.List(ctx, movieID)
	if err != nil {
		return nil, err
	}

	var missing []database.Screenshot
	for _, r := range rows {
		ok, err := filesystem.Exists(r.Path)
		if err != nil {
			logging.Warn("Cannot check screenshot %d at %s: %v", r.ID, r.Path, err)
			continue
		}
		if !ok {
			missing = append(missing, r)
		}
	}
	return missing, nil
}

// SyncExistingScreenshot records a file already on disk as a row.
func (e *Engine) SyncExistingScreenshot(ctx context.Context, movieID int64, path string, timestamp *int64) (int64, error) {
	return e.store.Save(ctx, movieID, path, timestamp)
}

// RestoreMissingScreenshot extracts the frame for a row whose file is
// gone and saves it at the deterministic path. A timestamped frame gets the
// caption of the subtitle file its batch was generated with, if that file
// can still be read.
func (e *Engine) RestoreMissingScreenshot(ctx context.Context, shot database.Screenshot, videoPath string) error {
	seek := 0.0
	var cue *subtitles.Cue
	if shot.Timestamp != nil {
		seek = float64(*shot.Timestamp)
		cue = e.caption(ctx, shot.MovieID, time.Duration(*shot.Timestamp)*time.Second)
	} else {
		info, err := e.extractor.VideoInfo(ctx, videoPath)
		if err != nil {
			return err
		}
		seek = info.Duration * fallbackPosition
	}

	dest := e.layout.PathFor(shot.MovieID, shot.Timestamp)
	staging := screenshots.StagingPath(dest, uuid.NewString())
	if err := e.extractor.Extract(ctx, videoPath, seek, staging, cue); err != nil {
		_ = os.Remove(staging)
		return err
	}

	_, _, err := e.store.Commit(ctx, shot.MovieID, staging, dest, shot.Timestamp, nil)
	return err
}

// caption returns the subtitle cue shown at t in the movie's recorded
// subtitle file. Missing or unreadable subtitles give no caption.
func (e *Engine) caption(ctx context.Context, movieID int64, t time.Duration) *subtitles.Cue {
	path, err := e.db.GetSubtitlePath(ctx, movieID)
	if err != nil || path == "" {
		return nil
	}
	track, err := subtitles.Load(path)
	if err != nil {
		logging.Warn("Restoring movie %d without captions: %v", movieID, err)
		return nil
	}
	return track.At(t)
}

// SyncMovieScreenshots brings a movie's rows and files back in line.
// Orphaned files get rows unless their timestamp already has a file, in
// which case they are deleted. Missing files are re-extracted and rows that
// cannot be restored are deleted. Staging and temp files older than the
// stale age are deleted too. Running it twice changes nothing the second
// time.
func (e *Engine) SyncMovieScreenshots(ctx context.Context, movieID int64) (*SyncReport, error) {
	movie, err := e.db.GetMovie(ctx, movieID)
	if err != nil {
		return nil, err
	}

	report, err := e.syncMovie(ctx, movie)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	metrics.SyncRunsTotal.WithLabelValues("success").Inc()
	return report, nil
}

func (e *Engine) syncMovie(ctx context.Context, movie *database.Movie) (*SyncReport, error) {
	report := &SyncReport{MovieID: movie.ID}
	dir := e.layout.MovieDir(movie.ID)

	scan, err := e.scanDir(ctx, movie.ID)
	if err != nil {
		return report, err
	}
	for _, path := range scan.leftovers {
		e.discard(report, dir, path, "stale staging file")
	}
	for _, o := range scan.orphans {
		name, _ := filepath.Rel(dir, o.path)
		report.Orphaned = append(report.Orphaned, name)
		metrics.SyncFindingsTotal.WithLabelValues("orphaned").Inc()

		if o.duplicate {
			e.discard(report, dir, o.path, "duplicate screenshot")
			continue
		}

		id, err := e.SyncExistingScreenshot(ctx, movie.ID, o.path, o.timestamp)
		if err != nil {
			return report, err
		}
		report.Synced = append(report.Synced, id)
		metrics.SyncFindingsTotal.WithLabelValues("synced").Inc()
	}

	missing, err := e.FindMissingFiles(ctx, movie.ID)
	if err != nil {
		return report, err
	}
	if len(missing) == 0 {
		e.logReport(movie, report)
		return report, nil
	}

	videoOK, err := filesystem.Exists(movie.Path)
	if err != nil {
		logging.Warn("Cannot check video %s: %v", movie.Path, err)
	}

	for _, shot := range missing {
		report.Missing = append(report.Missing, shot.ID)
		metrics.SyncFindingsTotal.WithLabelValues("missing").Inc()

		if videoOK {
			err := e.RestoreMissingScreenshot(ctx, shot, movie.Path)
			if err == nil {
				report.Restored = append(report.Restored, shot.ID)
				metrics.SyncFindingsTotal.WithLabelValues("restored").Inc()
				continue
			}
			if errors.Is(err, screenshots.ErrPersist) || ctx.Err() != nil {
				return report, err
			}
			logging.Warn("Could not restore screenshot %d of movie %d: %v", shot.ID, movie.ID, err)
		}

		if err := e.store.Delete(ctx, shot); err != nil {
			return report, err
		}
		report.Removed = append(report.Removed, shot.ID)
		metrics.SyncFindingsTotal.WithLabelValues("removed").Inc()
	}

	e.logReport(movie, report)
	return report, nil
}

// discard deletes a file sync will not keep. A file that cannot be deleted
// is logged and left out of the report so the next sync tries again.
func (e *Engine) discard(report *SyncReport, dir, path, what string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Cannot delete %s %s: %v", what, path, err)
		return
	}
	logging.Debug("Deleted %s %s", what, path)
	name, _ := filepath.Rel(dir, path)
	report.Discarded = append(report.Discarded, name)
	metrics.SyncFindingsTotal.WithLabelValues("discarded").Inc()
}

func (e *Engine) logReport(movie *database.Movie, r *SyncReport) {
	if r.Clean() {
		logging.Debug("Screenshots of movie %d are in sync", movie.ID)
		return
	}
	logging.Info("Synced screenshots of movie %d (%s): %d orphaned, %d missing, %d restored, %d removed, %d discarded",
		movie.ID, movie.Title, len(r.Orphaned), len(r.Missing), len(r.Restored), len(r.Removed), len(r.Discarded))
}

// SyncAll syncs every movie. A failing movie is logged and the rest still
// run; the failures are returned joined. progress, if set, is called after
// each movie.
func (e *Engine) SyncAll(ctx context.Context, progress func(done, total int)) ([]*SyncReport, error) {
	movies, err := e.db.ListMovies(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports []*SyncReport
		errs    []error
	)
	for i := range movies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report, err := e.SyncMovieScreenshots(ctx, movies[i].ID)
		if err != nil {
			logging.Error("Sync failed for movie %d (%s): %v", movies[i].ID, movies[i].Path, err)
			errs = append(errs, fmt.Errorf("movie %d: %w", movies[i].ID, err))
		}
		if report != nil {
			reports = append(reports, report)
		}
		if progress != nil {
			progress(i+1, len(movies))
		}
	}

	return reports, errors.Join(errs...)
}

func timestampKey(ts *int64) string {
	if ts == nil {
		return "fallback"
	}
	return fmt.Sprint(*ts)
}
