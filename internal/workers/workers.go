package workers

import (
	"math"
	"runtime"
)

// Profile describes how one worker of a task loads the machine.
type Profile struct {
	// PerCPU is the number of workers per available CPU.
	PerCPU float64
	// PerWorkerBytes is the memory one worker may hold at peak. Zero means
	// memory does not bound the count.
	PerWorkerBytes uint64
}

var (
	CPUBound = Profile{PerCPU: 1}
	IOBound  = Profile{PerCPU: 2}
	Mixed    = Profile{PerCPU: 1.5}

	// Extraction is one ffmpeg decoder plus a decoded and composited frame.
	Extraction = Profile{PerCPU: 1, PerWorkerBytes: 256 << 20}
)

// Size returns the worker count for p. GOMAXPROCS follows the container CPU
// limit. budget is the memory the pool may use (0 if unknown) and limit is a
// hard cap (0 for none). The result is never below one.
func (p Profile) Size(budget uint64, limit int) int {
	n := int(float64(runtime.GOMAXPROCS(0)) * p.PerCPU)

	if p.PerWorkerBytes > 0 && budget > 0 {
		byMemory := budget / p.PerWorkerBytes
		if byMemory < math.MaxInt && int(byMemory) < n {
			n = int(byMemory)
		}
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return max(n, 1)
}
