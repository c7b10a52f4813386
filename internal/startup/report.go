package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"framegrab/internal/logging"
	"framegrab/internal/memory"
)

const rule = "------------------------------------------------------------"

// section starts a titled block of the startup log.
func section(title string) {
	logging.Info("")
	logging.Info(rule)
	logging.Info("%s", title)
	logging.Info(rule)
}

func onOff(on bool) string {
	if on {
		return "ENABLED"
	}
	return "DISABLED"
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func printBanner() {
	fmt.Println(rule + `
    ____                                           __
   / __/________ _____ ___  ___  ____ __________ _/ /_
  / /_/ ___/ __ '/ __ '__ \/ _ \/ __ '/ ___/ __ '/ __ \
 / __/ /  / /_/ / / / / / /  __/ /_/ / /  / /_/ / /_/ /
/_/ /_/   \__,_/_/ /_/ /_/\___/\__, /_/   \__,_/_.___/
                              /____/
` + rule)
	info := GetBuildInfo()
	logging.Info("  Version:    %s (commit %s, built %s)", info.Version, info.Commit, info.BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	procs := runtime.GOMAXPROCS(0)
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs:            %d (GOMAXPROCS %d)", runtime.NumCPU(), procs)
	if procs < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}
	if wd, err := os.Getwd(); err == nil {
		logging.Debug("  Working dir:     %s", wd)
	}
	if host, err := os.Hostname(); err == nil {
		logging.Debug("  Hostname:        %s", host)
	}
}

func LogDatabaseInit(took time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database initialized in %v", took)
}

// LogMemoryInit logs how the Go memory limit was configured.
func LogMemoryInit(result memory.ConfigResult) {
	section("MEMORY")
	if result.Configured {
		logging.Info("  GOMEMLIMIT: %d MiB (source: %s)", result.GoMemLimit>>20, result.Source)
	} else {
		logging.Info("  No memory limit configured")
	}
	if total, available, err := memory.HostMemory(); err == nil {
		logging.Info("  Host memory: %d MiB total, %d MiB available", total>>20, available>>20)
	}
}

// LogExtractorInit checks that ffmpeg and ffprobe can be executed. A
// missing tool is a warning: only extraction fails without it.
func LogExtractorInit(cfg *Config) {
	section("EXTRACTOR INITIALIZATION")
	logging.Info("  Workers: %d, queue size: %d, timeout: %v", cfg.ExtractWorkers, cfg.QueueSize, cfg.ExtractTimeout)
	for _, tool := range []string{cfg.FFmpegPath, cfg.FFprobePath} {
		if err := checkTool(tool); err != nil {
			logging.Warn("  %s check failed: %v", tool, err)
			logging.Warn("  Screenshot extraction will fail until it is installed")
			continue
		}
		logging.Info("  [OK] %s is available", tool)
	}
	if cfg.FontPath != "" {
		logging.Info("  Overlay font: %s", cfg.FontPath)
	}
}

func checkTool(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get %s version: %w", name, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	logging.Debug("  %s: %s", path, strings.TrimSpace(first))
	return nil
}

func LogIndexerInit(schedule string, watch bool) {
	section("INDEXER INITIALIZATION")
	logging.Info("  Scan schedule: %s", valueOr(schedule, "(disabled)"))
	logging.Info("  Folder watch:  %s", onOff(watch))
}

func LogIndexerStarted() {
	logging.Info("  [OK] Indexer started")
}

// RouteInfo is one method and path registered on a router.
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes lists every route of router, one entry per method. Routes
// without a method restriction are reported as "*".
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tmpl, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: tmpl, Name: route.GetName()})
		}
		return nil
	})
	return routes, err
}

// routeGroup is "api/<resource>" for API paths and the first segment
// otherwise.
func routeGroup(path string) string {
	segs := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if segs[0] == "api" && len(segs) > 1 {
		return "api/" + segs[1]
	}
	return segs[0]
}

// LogHTTPRoutes lists the routes by group at debug level.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}
		sort.SliceStable(routes, func(i, j int) bool {
			return routeGroup(routes[i].Path) < routeGroup(routes[j].Path)
		})
		logging.Debug("  Registered routes (%d total):", len(routes))
		group := "\x00"
		for _, r := range routes {
			if g := routeGroup(r.Path); g != group {
				group = g
				logging.Debug("  [%s]", valueOr(g, "root"))
			}
			logging.Debug("    %-6s %s", r.Method, r.Path)
		}
	}

	if logHealthChecks {
		logging.Info("  Access log: ON, health checks included")
	} else {
		logging.Info("  Access log: ON, health checks skipped (LOG_HEALTH_CHECKS=true to include)")
	}
}

// ServerConfig is what LogServerStarted reports.
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

func LogServerStarted(cfg ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", cfg.StartupDuration)
	logging.Info("  API:             http://0.0.0.0:%s/api", cfg.Port)
	if cfg.MetricsEnabled {
		logging.Info("  Metrics:         http://0.0.0.0:%s/metrics", cfg.MetricsPort)
	} else {
		logging.Info("  Metrics:         DISABLED")
	}
	logging.Info(rule)
}

func LogShutdownInitiated(signal string) {
	section(fmt.Sprintf("SHUTDOWN INITIATED (received %s)", signal))
}

func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs and exits with status 1.
func LogFatal(format string, args ...any) {
	logging.Fatal(format, args...)
}
