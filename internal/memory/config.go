package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"framegrab/internal/logging"
)

// DefaultMemoryRatio is the share of container memory given to the Go heap.
// The rest is left for ffmpeg and image buffers.
const DefaultMemoryRatio = 0.85

// ConfigResult holds the result of memory configuration
type ConfigResult struct {
	Configured     bool
	Source         string // "GOMEMLIMIT", "MEMORY_LIMIT", "cgroup" or "none"
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// cgroupLimitFiles are read in order for the container memory limit:
// cgroup v2 first, then v1.
var cgroupLimitFiles = []string{
	"/sys/fs/cgroup/memory.max",
	"/sys/fs/cgroup/memory/memory.limit_in_bytes",
}

// cgroupLimit returns the container memory limit, or 0 when there is none.
// v1 reports "no limit" as a huge page-aligned number.
func cgroupLimit() int64 {
	for _, path := range cgroupLimitFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		value := strings.TrimSpace(string(data))
		if value == "max" {
			return 0
		}
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil || limit <= 0 || limit >= 1<<62 {
			return 0
		}
		return limit
	}
	return 0
}

// Configure sets GOMEMLIMIT to ratio (MEMORY_RATIO) of the container limit.
// The limit is MEMORY_LIMIT when set, else the cgroup limit. An explicit
// GOMEMLIMIT environment variable wins. Call it early in main, before
// significant allocations.
func Configure(containerLimit int64, ratio float64) ConfigResult {
	result := ConfigResult{Source: "none"}

	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.Source = "GOMEMLIMIT"
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	source := "MEMORY_LIMIT"
	if containerLimit <= 0 {
		containerLimit = cgroupLimit()
		source = "cgroup"
	}
	if containerLimit <= 0 {
		logging.Debug("No MEMORY_LIMIT or cgroup limit, GOMEMLIMIT not configured")
		return result
	}

	if ratio <= 0 || ratio > 1 {
		if ratio != 0 {
			logging.Warn("MEMORY_RATIO %.2f out of range (0.0-1.0], using default %.2f", ratio, DefaultMemoryRatio)
		}
		ratio = DefaultMemoryRatio
	}

	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	result.Configured = true
	result.Source = source
	result.ContainerLimit = containerLimit
	result.GoMemLimit = goMemLimit
	result.Ratio = ratio

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s container limit)",
		formatBytes(goMemLimit), ratio*100, formatBytes(containerLimit))
	return result
}

// formatBytes formats bytes into human-readable string
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
