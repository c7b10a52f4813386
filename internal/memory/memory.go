package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

// Config tunes the Monitor. Watermarks are fractions of the limit.
type Config struct {
	// MemoryLimitBytes is the soft limit; 0 means GOMEMLIMIT, then host memory.
	MemoryLimitBytes int64
	// ResumeBelow ends a pause once usage falls under it.
	ResumeBelow float64
	// PauseAt starts a pause.
	PauseAt       float64
	CheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ResumeBelow:   0.7,
		PauseAt:       0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Usage is a point-in-time view of the heap against the limit.
type Usage struct {
	HeapBytes  int64   `json:"heapBytes"`
	LimitBytes int64   `json:"limitBytes"`
	Ratio      float64 `json:"ratio"`
	Paused     bool    `json:"paused"`
}

// Monitor holds extraction jobs back while the heap is close to the limit.
// Decoded frames and buffered ffmpeg output are what push it there.
type Monitor struct {
	cfg   Config
	limit int64
	stop  chan struct{}
	once  sync.Once

	mu     sync.RWMutex
	heap   uint64
	paused bool
	// resumed is closed and replaced each time a pause ends.
	resumed chan struct{}
}

// resolveLimit picks the explicit limit, then GOMEMLIMIT, then a share of
// host memory. 0 disables the monitor.
func resolveLimit(explicit int64) int64 {
	if explicit > 0 {
		return explicit
	}
	if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
		logging.Info("Memory monitor using GOMEMLIMIT: %s", formatBytes(l))
		return l
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		logging.Debug("Memory monitor: cannot read host memory: %v", err)
		return 0
	}
	if vm.Total == 0 || vm.Total >= math.MaxInt64 {
		return 0
	}
	l := int64(float64(vm.Total) * DefaultMemoryRatio)
	logging.Info("Memory monitor using %.0f%% of host memory: %s", DefaultMemoryRatio*100, formatBytes(l))
	return l
}

func NewMonitor(cfg Config) *Monitor {
	limit := resolveLimit(cfg.MemoryLimitBytes)
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit available, extraction is never paused")
	}
	return &Monitor{
		cfg:     cfg,
		limit:   limit,
		stop:    make(chan struct{}),
		resumed: make(chan struct{}),
	}
}

// Start samples the heap every CheckInterval until Stop. It does nothing
// without a limit.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go func() {
		t := time.NewTicker(m.cfg.CheckInterval)
		defer t.Stop()
		var ms runtime.MemStats
		for {
			select {
			case <-m.stop:
				return
			case <-t.C:
				runtime.ReadMemStats(&ms)
				m.observe(ms.Alloc)
			}
		}
	}()
}

// Stop ends sampling and releases every waiter.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) observe(heap uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.heap = heap
	if m.limit <= 0 {
		return
	}
	ratio := float64(heap) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(ratio)

	if !m.paused && ratio >= m.cfg.PauseAt {
		logging.Warn("Memory critical (%.1f%% of limit), pausing extraction", ratio*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
		return
	}
	if m.paused && ratio < m.cfg.ResumeBelow {
		logging.Info("Memory recovered (%.1f%% of limit), resuming extraction", ratio*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumed)
		m.resumed = make(chan struct{})
	}
}

// WaitIfPaused blocks while memory is critical. It returns false if ctx is
// done or the monitor stops first.
func (m *Monitor) WaitIfPaused(ctx context.Context) bool {
	m.mu.RLock()
	paused, resumed := m.paused, m.resumed
	m.mu.RUnlock()
	if !paused {
		return true
	}

	select {
	case <-resumed:
		return true
	case <-ctx.Done():
		return false
	case <-m.stop:
		return false
	}
}

// Usage returns the latest sample.
func (m *Monitor) Usage() Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u := Usage{LimitBytes: m.limit, Paused: m.paused, HeapBytes: math.MaxInt64}
	if m.heap <= math.MaxInt64 {
		u.HeapBytes = int64(m.heap)
	}
	if m.limit > 0 {
		u.Ratio = float64(m.heap) / float64(m.limit)
	}
	return u
}

// HostMemory reports total and available host memory.
func HostMemory() (total, available uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}
