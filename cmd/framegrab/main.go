package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"framegrab/internal/database"
	"framegrab/internal/extractor"
	"framegrab/internal/filesystem"
	"framegrab/internal/generator"
	"framegrab/internal/handlers"
	"framegrab/internal/indexer"
	"framegrab/internal/logging"
	"framegrab/internal/media"
	"framegrab/internal/memory"
	"framegrab/internal/metrics"
	"framegrab/internal/middleware"
	"framegrab/internal/screenshots"
	"framegrab/internal/startup"
	"framegrab/internal/syncer"
)

const (
	shutdownTimeout         = 30 * time.Second
	metricsCollectInterval  = time.Minute
	serverReadHeaderTimeout = 10 * time.Second
	serverIdleTimeout       = 60 * time.Second
)

// app holds every long-lived component of the server.
type app struct {
	config    *startup.Config
	db        *database.Database
	monitor   *memory.Monitor
	extractor *extractor.Extractor
	store     *screenshots.Store
	generator *generator.Generator
	syncer    *syncer.Engine
	indexer   *indexer.Indexer
	collector *metrics.Collector
	handlers  *handlers.Handlers

	// callbacks tracks post-scan work started from indexer callbacks.
	callbacks sync.WaitGroup
}

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	startup.LogMemoryInit(memory.Configure(config.MemoryLimit, config.MemoryRatio))

	a, err := newApp(config)
	if err != nil {
		startup.LogFatal("Initialization failed: %v", err)
	}

	startup.LogIndexerInit(config.ScanSchedule, config.WatchEnabled)
	if err := a.indexer.Start(); err != nil {
		startup.LogFatal("Failed to start indexer: %v", err)
	}
	startup.LogIndexerStarted()

	router := setupRouter(a.handlers)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(
		middleware.Logger(loggingConfig)(router),
	)

	srv := newServer(":"+config.Port, handler)

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", handlers.MetricsHandler())
		metricsSrv = newServer(":"+config.MetricsPort, metricsMux)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		handleShutdown(a, srv, metricsSrv)
		close(done)
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

// newApp builds and wires the components. Nothing is started except the
// memory monitor and the metrics collector.
func newApp(config *startup.Config) (*app, error) {
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"media":       config.MediaDir,
		"screenshots": config.ScreenshotDir,
		"database":    config.DatabaseDir,
		"cache":       config.CacheDir,
	}))
	metrics.InitializeMetrics()

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		return nil, err
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	a := &app{config: config, db: db}

	a.monitor = memory.NewMonitor(memory.DefaultConfig())
	a.monitor.Start()

	startup.LogExtractorInit(config)
	a.extractor, err = extractor.New(extractor.Config{
		FFmpegPath:  config.FFmpegPath,
		FFprobePath: config.FFprobePath,
		Timeout:     config.ExtractTimeout,
		JPEGQuality: config.JPEGQuality,
		FontPath:    config.FontPath,
	}, extractor.NewExecRunner())
	if err != nil {
		a.close()
		return nil, err
	}

	layout, err := screenshots.NewLayout(config.ScreenshotDir)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = screenshots.NewStore(db, layout)

	a.generator = generator.New(generator.Config{
		Workers:      config.ExtractWorkers,
		QueueSize:    config.QueueSize,
		AutoInterval: int(config.AutoInterval),
	}, db, a.store, a.extractor, a.monitor)
	a.syncer = syncer.New(db, a.store, a.extractor)
	// An extraction is retried once, so a live staging file is never older
	// than a few timeouts.
	a.syncer.SetStaleAfter(max(syncer.DefaultStaleAfter, 4*config.ExtractTimeout))

	a.indexer, err = indexer.New(db, indexer.Config{
		MediaDir: config.MediaDir,
		Schedule: config.ScanSchedule,
		Watch:    config.WatchEnabled,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.indexer.SetOnScanComplete(a.onScanComplete)
	a.indexer.SetOnMoviesRemoved(a.onMoviesRemoved)

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable, resizing with the pure Go fallback: %v", err)
	}
	cacheDir := ""
	if config.ResizeCacheEnabled {
		cacheDir = config.ResizeCacheDir
	}
	resizer := media.NewResizer(cacheDir, config.JPEGQuality)

	a.handlers = handlers.New(db, a.indexer, a.generator, a.syncer, a.store, resizer)
	a.handlers.SetMemoryReporter(a.monitor)

	a.collector = metrics.NewCollector(db, db, metricsCollectInterval)
	a.collector.Start()

	return a, nil
}

// onScanComplete hands new and changed movies to the generator.
func (a *app) onScanComplete(result indexer.ScanResult) {
	touched := result.Touched()
	if len(touched) == 0 {
		return
	}
	a.callbacks.Add(1)
	go func() {
		defer a.callbacks.Done()
		a.generator.HandleScanResult(context.Background(), touched)
	}()
}

// onMoviesRemoved stops generation for deleted movies and removes their
// screenshot directories. Rows are already gone with the movie.
func (a *app) onMoviesRemoved(ids []int64) {
	layout := a.store.Layout()
	for _, id := range ids {
		a.generator.Cancel(id)
		if err := layout.RemoveMovieDir(id); err != nil {
			logging.Warn("Failed to remove screenshots of deleted movie %d: %v", id, err)
		}
	}
}

// close stops whatever newApp started, in reverse order.
func (a *app) close() {
	if a.indexer != nil {
		a.indexer.Stop()
	}
	a.callbacks.Wait()
	if a.generator != nil {
		a.generator.Stop()
	}
	if a.extractor != nil {
		a.extractor.Cleanup()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	media.ShutdownVips()
	if err := a.db.Close(); err != nil {
		logging.Warn("failed to close database: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	h.RegisterRoutes(r)
	return r
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

func handleShutdown(a *app, srv, metricsSrv *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Stopping indexer, generator and extractor")
	a.close()
	startup.LogShutdownStepComplete("Background work stopped")

	startup.LogShutdownComplete()
}
