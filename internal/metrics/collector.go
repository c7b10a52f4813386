package metrics

import (
	"sync"
	"time"

	"framegrab/internal/logging"
)

// StatsProvider reports library totals.
type StatsProvider interface {
	GetStats() Stats
}

// DBMetricsUpdater refreshes connection and file-size gauges.
type DBMetricsUpdater interface {
	UpdateDBMetrics()
}

// Stats are the library totals exported as gauges.
type Stats struct {
	TotalMovies              int
	TotalScreenshots         int
	MoviesWithoutScreenshots int
}

// Collector refreshes the library and database gauges on an interval.
// Either source may be nil.
type Collector struct {
	library  StatsProvider
	db       DBMetricsUpdater
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	last Stats
}

func NewCollector(library StatsProvider, db DBMetricsUpdater, interval time.Duration) *Collector {
	return &Collector{
		library:  library,
		db:       db,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start collects once immediately, then every interval until Stop.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			c.collect()
			select {
			case <-ticker.C:
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends the loop and waits for it. It may be called more than once,
// but only after Start.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Collector) collect() {
	if c.db != nil {
		c.db.UpdateDBMetrics()
	}
	if c.library == nil {
		return
	}

	stats := c.library.GetStats()
	LibraryMoviesTotal.Set(float64(stats.TotalMovies))
	LibraryScreenshotsTotal.Set(float64(stats.TotalScreenshots))
	LibraryMoviesWithoutScreenshots.Set(float64(stats.MoviesWithoutScreenshots))

	if stats != c.last {
		logging.Debug("Library now has %d movies, %d screenshots, %d movies without screenshots",
			stats.TotalMovies, stats.TotalScreenshots, stats.MoviesWithoutScreenshots)
		c.last = stats
	}
}
