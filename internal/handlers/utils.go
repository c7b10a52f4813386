package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/generator"
	"framegrab/internal/indexer"
	"framegrab/internal/logging"
	"framegrab/internal/media"
	"framegrab/internal/middleware"
)

var errBadRequest = errors.New("bad request")

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding or write errors are only logged; the status is already sent.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, statusCode, map[string]string{"error": message})
}

// statusFor maps an error to its HTTP status: caller mistakes are 4xx,
// everything else is a server error.
func statusFor(err error) int {
	var extractErr *extractor.ExtractionError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, generator.ErrInvalidRequest),
		errors.Is(err, extractor.ErrInvalidTimestamp),
		errors.Is(err, media.ErrInvalidWidth):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrScanInProgress):
		return http.StatusConflict
	case errors.As(err, &extractErr) && extractErr.Kind == extractor.KindInvalidInput:
		return http.StatusBadRequest
	case errors.As(err, &extractErr) && extractErr.Kind == extractor.KindSourceUnreadable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Server errors are logged with the
// request and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error("%s %s failed (request %s): %v", r.Method, r.URL.Path, middleware.RequestID(r.Context()), err)
		writeJSONError(w, http.StatusText(status), status)
		return
	}
	logging.Debug("%s %s rejected (%d): %v", r.Method, r.URL.Path, status, err)
	writeJSONError(w, err.Error(), status)
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, mux.Vars(r)[name])
	}
	return id, nil
}

// queryWidth parses the optional ?width= parameter; 0 means original size.
func queryWidth(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("width")
	if raw == "" {
		return 0, nil
	}
	width, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: width must be an integer", errBadRequest)
	}
	if width < media.MinWidth || width > media.MaxImageDimension {
		return 0, fmt.Errorf("%w: width must be between %d and %d", media.ErrInvalidWidth, media.MinWidth, media.MaxImageDimension)
	}
	return width, nil
}
