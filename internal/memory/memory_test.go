package memory

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(limit int64) *Monitor {
	cfg := DefaultConfig()
	cfg.MemoryLimitBytes = limit
	return NewMonitor(cfg)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.7, cfg.ResumeBelow)
	assert.Equal(t, 0.85, cfg.PauseAt)
	assert.Equal(t, 5*time.Second, cfg.CheckInterval)
}

func TestObservePausesAndResumes(t *testing.T) {
	m := newTestMonitor(1000)

	m.observe(900)
	assert.True(t, m.Usage().Paused)

	// Between the watermarks the state is sticky.
	m.observe(800)
	assert.True(t, m.Usage().Paused)

	done := make(chan bool, 1)
	go func() { done <- m.WaitIfPaused(context.Background()) }()

	m.observe(100)
	assert.False(t, m.Usage().Paused)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused did not return after recovery")
	}
}

func TestWaitIfPaused_ContextCancelled(t *testing.T) {
	m := newTestMonitor(1000)
	m.observe(999)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, m.WaitIfPaused(ctx))
}

func TestWaitIfPaused_Stop(t *testing.T) {
	m := newTestMonitor(1000)
	m.observe(999)
	m.Stop()
	m.Stop()

	assert.False(t, m.WaitIfPaused(context.Background()))
}

func TestWaitIfPaused_NotPaused(t *testing.T) {
	m := newTestMonitor(1000)
	assert.True(t, m.WaitIfPaused(context.Background()))
}

func TestUsage(t *testing.T) {
	m := newTestMonitor(2000)
	m.observe(500)

	u := m.Usage()
	assert.Equal(t, int64(500), u.HeapBytes)
	assert.Equal(t, int64(2000), u.LimitBytes)
	assert.InDelta(t, 0.25, u.Ratio, 0.0001)
	assert.False(t, u.Paused)
}

func TestMonitorStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitBytes = math.MaxInt32
	cfg.CheckInterval = 5 * time.Millisecond
	m := NewMonitor(cfg)

	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	assert.Positive(t, m.Usage().HeapBytes)
}

func TestHostMemory(t *testing.T) {
	total, available, err := HostMemory()
	if err != nil {
		t.Skipf("host memory unavailable: %v", err)
	}
	assert.Positive(t, total)
	assert.LessOrEqual(t, available, total)
}

// =============================================================================
// Configure
// =============================================================================

func restoreMemoryLimit(t *testing.T) {
	t.Helper()
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
	withCgroupFiles(t, filepath.Join(t.TempDir(), "absent"))
}

func withCgroupFiles(t *testing.T, files ...string) {
	t.Helper()
	prev := cgroupLimitFiles
	cgroupLimitFiles = files
	t.Cleanup(func() { cgroupLimitFiles = prev })
}

func writeCgroupFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.max")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCgroupLimit(t *testing.T) {
	tests := []struct {
		content string
		want    int64
	}{
		{"2147483648\n", 2147483648},
		{"max\n", 0},
		{"9223372036854771712\n", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		withCgroupFiles(t, writeCgroupFile(t, tt.content))
		assert.Equal(t, tt.want, cgroupLimit(), "content %q", tt.content)
	}

	withCgroupFiles(t, filepath.Join(t.TempDir(), "absent"), writeCgroupFile(t, "1048576"))
	assert.Equal(t, int64(1048576), cgroupLimit(), "falls through to the v1 file")
}

func TestConfigure_CgroupLimit(t *testing.T) {
	restoreMemoryLimit(t)
	t.Setenv("GOMEMLIMIT", "")
	withCgroupFiles(t, writeCgroupFile(t, "1073741824"))

	res := Configure(0, 0.5)
	require.True(t, res.Configured)
	assert.Equal(t, "cgroup", res.Source)
	assert.Equal(t, int64(1<<30), res.ContainerLimit)
	assert.Equal(t, int64(1<<29), res.GoMemLimit)
}

func TestConfigure_NoLimit(t *testing.T) {
	restoreMemoryLimit(t)
	t.Setenv("GOMEMLIMIT", "")

	res := Configure(0, 0)
	assert.False(t, res.Configured)
	assert.Equal(t, "none", res.Source)
}

func TestConfigure_ContainerLimit(t *testing.T) {
	restoreMemoryLimit(t)
	t.Setenv("GOMEMLIMIT", "")

	res := Configure(1<<30, 0.5)
	require.True(t, res.Configured)
	assert.Equal(t, "MEMORY_LIMIT", res.Source)
	assert.Equal(t, int64(1<<29), res.GoMemLimit)
	assert.Equal(t, int64(1<<29), debug.SetMemoryLimit(-1))
}

func TestConfigure_BadRatioUsesDefault(t *testing.T) {
	restoreMemoryLimit(t)
	t.Setenv("GOMEMLIMIT", "")

	res := Configure(1000, 3)
	assert.Equal(t, DefaultMemoryRatio, res.Ratio)
	assert.Equal(t, int64(850), res.GoMemLimit)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 30, "1.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
