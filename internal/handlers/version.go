package handlers

import (
	"net/http"

	"framegrab/internal/startup"
)

// VersionHeader carries the build version on /version responses.
const VersionHeader = "X-Framegrab-Version"

// GetVersion returns the build information of the running server.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	info := startup.GetBuildInfo()
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(VersionHeader, info.Version)
	writeJSONStatus(w, http.StatusOK, info)
}
