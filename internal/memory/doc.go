// Package memory keeps the process inside its memory budget while frames
// are being extracted.
//
// # Configuration
//
// Call [Configure] early in main, before significant allocations. It sets
// GOMEMLIMIT from a container limit (MEMORY_LIMIT) scaled by MEMORY_RATIO,
// unless GOMEMLIMIT is already set in the environment.
//
//	memory.Configure(cfg.MemoryLimit, cfg.MemoryRatio)
//
// # Backpressure
//
// A [Monitor] samples heap usage. When usage crosses the critical watermark
// the monitor pauses and extraction workers block in [Monitor.WaitIfPaused]
// until usage falls below the high watermark. Without an explicit limit the
// monitor derives one from host memory.
package memory
