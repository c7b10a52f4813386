package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStatsProvider struct {
	mu    sync.Mutex
	stats Stats
	calls int
}

func (m *mockStatsProvider) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockDBUpdater struct {
	mu    sync.Mutex
	count int
}

func (m *mockDBUpdater) UpdateDBMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
}

func (m *mockDBUpdater) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func TestNewCollector(t *testing.T) {
	provider := &mockStatsProvider{}
	collector := NewCollector(provider, nil, 5*time.Second)

	if collector == nil {
		t.Fatal("NewCollector returned nil")
	}
	if collector.interval != 5*time.Second {
		t.Errorf("interval = %v, want 5s", collector.interval)
	}
	if collector.stop == nil || collector.done == nil {
		t.Error("stop channels not initialized")
	}
}

func TestCollectorCollectUpdatesGauges(t *testing.T) {
	provider := &mockStatsProvider{
		stats: Stats{TotalMovies: 12, TotalScreenshots: 340, MoviesWithoutScreenshots: 2},
	}
	updater := &mockDBUpdater{}

	collector := NewCollector(provider, updater, time.Hour)
	collector.collect()

	if got := testutil.ToFloat64(LibraryMoviesTotal); got != 12 {
		t.Errorf("LibraryMoviesTotal = %v, want 12", got)
	}
	if got := testutil.ToFloat64(LibraryScreenshotsTotal); got != 340 {
		t.Errorf("LibraryScreenshotsTotal = %v, want 340", got)
	}
	if got := testutil.ToFloat64(LibraryMoviesWithoutScreenshots); got != 2 {
		t.Errorf("LibraryMoviesWithoutScreenshots = %v, want 2", got)
	}
	if updater.getCount() != 1 {
		t.Errorf("UpdateDBMetrics called %d times, want 1", updater.getCount())
	}
}

func TestCollectorNilProvider(t *testing.T) {
	updater := &mockDBUpdater{}
	collector := NewCollector(nil, updater, time.Hour)

	collector.collect()

	if updater.getCount() != 1 {
		t.Errorf("UpdateDBMetrics called %d times, want 1", updater.getCount())
	}
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{}
	collector := NewCollector(provider, nil, 10*time.Millisecond)

	collector.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	collector.Stop()

	if provider.callCount() < 2 {
		t.Errorf("expected at least 2 collections, got %d", provider.callCount())
	}

	// Stop waited for the loop, so nothing collects afterwards.
	calls := provider.callCount()
	time.Sleep(30 * time.Millisecond)
	if got := provider.callCount(); got != calls {
		t.Errorf("collected after Stop: %d -> %d", calls, got)
	}
	collector.Stop()
}
