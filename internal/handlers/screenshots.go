package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"framegrab/internal/filesystem"
	"framegrab/internal/generator"
	"framegrab/internal/logging"
	"framegrab/internal/mediatypes"
)

// maxRequestBody bounds generation request bodies.
const maxRequestBody = 64 << 10

// GalleryItem is one screenshot as exposed to clients. File paths never
// leave the server.
type GalleryItem struct {
	ID        int64  `json:"id"`
	Timestamp *int64 `json:"timestamp"`
	Fallback  bool   `json:"fallback"`
	URL       string `json:"url"`
}

// Gallery is a movie's screenshots sorted by timestamp, fallback last.
type Gallery struct {
	MovieID     int64         `json:"movieId"`
	Screenshots []GalleryItem `json:"screenshots"`
}

func imageURL(id int64) string {
	return "/api/screenshots/" + strconv.FormatInt(id, 10) + "/image"
}

// ListScreenshots returns a movie's gallery.
func (h *Handlers) ListScreenshots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.db.GetMovie(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	shots, err := h.store.List(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	gallery := Gallery{MovieID: id, Screenshots: make([]GalleryItem, 0, len(shots))}
	for _, s := range shots {
		gallery.Screenshots = append(gallery.Screenshots, GalleryItem{
			ID:        s.ID,
			Timestamp: s.Timestamp,
			Fallback:  s.IsFallback(),
			URL:       imageURL(s.ID),
		})
	}
	writeJSONStatus(w, http.StatusOK, gallery)
}

// GenerateScreenshots starts interval generation for a movie and answers
// 202 with the batch id and planned count.
func (h *Handlers) GenerateScreenshots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req generator.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	req.MovieID = id

	queued, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, queued)
}

// CancelGeneration drains the movie's running batch.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]bool{"cancelled": h.generator.Cancel(id)})
}

// GetGenerationProgress reports the row count and current batch status.
func (h *Handlers) GetGenerationProgress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	progress, err := h.generator.Progress(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, progress)
}

// SyncScreenshots reconciles a movie's rows with its screenshot directory
// and returns the report.
func (h *Handlers) SyncScreenshots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.syncer.SyncMovieScreenshots(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, report)
}

// GetScreenshotImage serves a screenshot's bytes, resized when ?width is
// given. A row whose file is gone answers 404.
func (h *Handlers) GetScreenshotImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	shot, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.serveImage(w, r, shot.Path)
}

func (h *Handlers) serveImage(w http.ResponseWriter, r *http.Request, path string) {
	width, err := queryWidth(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if width > 0 && h.resizer != nil {
		data, err := h.resizer.Resize(path, width)
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn("Image file missing: %s", path)
			writeJSONError(w, "image file not found", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method != http.MethodHead {
			if _, err := w.Write(data); err != nil {
				logging.Debug("failed to write resized image: %v", err)
			}
		}
		return
	}

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if errors.Is(err, os.ErrNotExist) {
		logging.Warn("Image file missing: %s", path)
		writeJSONError(w, "image file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mediatypes.MimeType(path))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
