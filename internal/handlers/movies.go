package handlers

import (
	"net/http"

	"framegrab/internal/database"
)

// ListMovies returns every indexed movie ordered by title.
func (h *Handlers) ListMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := h.db.ListMovies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if movies == nil {
		movies = []database.Movie{}
	}
	writeJSONStatus(w, http.StatusOK, movies)
}

// GetMovie returns one movie.
func (h *Handlers) GetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	movie, err := h.db.GetMovie(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, movie)
}

// GetRepresentative serves the movie's poster, or its fallback screenshot
// when it has no poster.
func (h *Handlers) GetRepresentative(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	movie, err := h.db.GetMovie(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch ref := movie.Representative; ref.Kind {
	case database.RefImage:
		h.serveImage(w, r, ref.ImagePath)
	case database.RefScreenshot:
		shot, err := h.store.Get(r.Context(), ref.ScreenshotID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		h.serveImage(w, r, shot.Path)
	default:
		writeJSONError(w, "movie has no representative image", http.StatusNotFound)
	}
}

// GetStats returns library totals.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, stats)
}
