package handlers

import (
	"net/http"
	"runtime"
	"time"

	"framegrab/internal/logging"
	"framegrab/internal/memory"
	"framegrab/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Ready            bool   `json:"ready"`
	Version          string `json:"version"`
	Uptime           string `json:"uptime"`
	Scanning         bool   `json:"scanning"`
	LastScan         string `json:"lastScan,omitempty"`
	InitialScanError string `json:"initialScanError,omitempty"`
	DatabaseError    string `json:"databaseError,omitempty"`

	MoviesIndexed int64 `json:"moviesIndexed"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Library totals
	TotalMovies      int `json:"totalMovies"`
	TotalScreenshots int `json:"totalScreenshots"`

	Memory *memory.Usage `json:"memory,omitempty"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	healthStatus := h.indexer.GetHealthStatus()

	response := HealthResponse{
		Status:           statusStarting,
		Ready:            healthStatus.Ready,
		Version:          startup.Version,
		Uptime:           healthStatus.Uptime,
		Scanning:         healthStatus.Scanning,
		InitialScanError: healthStatus.InitialScanError,
		MoviesIndexed:    healthStatus.MoviesIndexed,
		GoVersion:        runtime.Version(),
		NumCPU:           runtime.NumCPU(),
		NumGoroutine:     runtime.NumGoroutine(),
	}

	if healthStatus.Ready {
		response.Status = statusHealthy
	}
	if !healthStatus.LastScan.IsZero() {
		response.LastScan = healthStatus.LastScan.Format(time.RFC3339)
	}
	if healthStatus.InitialScanError != "" {
		response.Status = statusDegraded
	}

	if err := h.db.Ping(r.Context()); err != nil {
		logging.Warn("Health check database ping failed: %v", err)
		response.DatabaseError = err.Error()
		response.Status = statusDegraded
	} else if stats, err := h.db.Stats(r.Context()); err == nil {
		response.TotalMovies = stats.TotalMovies
		response.TotalScreenshots = stats.TotalScreenshots
	}

	if h.memory != nil {
		u := h.memory.Usage()
		response.Memory = &u
	}

	status := http.StatusOK
	if !healthStatus.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, response)
}

// LivenessCheck answers 200 while the process is serving
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 once the first scan finished and the database
// answers
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.indexer.IsReady() || h.db.Ping(r.Context()) != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ready"})
}
