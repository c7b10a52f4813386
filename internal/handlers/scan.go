package handlers

import "net/http"

// TriggerScan starts a library scan in the background.
func (h *Handlers) TriggerScan(w http.ResponseWriter, _ *http.Request) {
	if !h.indexer.TriggerScan() {
		writeJSONStatus(w, http.StatusConflict, map[string]string{
			"status":  "already_running",
			"message": "A library scan is already in progress",
		})
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Library scan started",
	})
}

// GetScanProgress reports the current or last scan's progress.
func (h *Handlers) GetScanProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, h.indexer.GetProgress())
}
