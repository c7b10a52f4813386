package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the minimum severity that is written.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

func (l LogLevel) zl() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// parseLevel resolves DEBUG and LOG_LEVEL. A truthy DEBUG wins.
func parseLevel(debug, level string) LogLevel {
	switch strings.ToLower(debug) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// newLogger builds a zerolog logger writing JSON records when format is
// "json" and console lines otherwise.
func newLogger(w io.Writer, format string) zerolog.Logger {
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// sink is the configured output. Readers load it without locking; writers
// rebuild it under mu.
type sink struct {
	level LogLevel
	out   io.Writer
	log   zerolog.Logger
}

var (
	mu      sync.Mutex
	current atomic.Pointer[sink]
)

func load() *sink {
	if s := current.Load(); s != nil {
		return s
	}
	mu.Lock()
	defer mu.Unlock()
	if s := current.Load(); s != nil {
		return s
	}
	s := build(parseLevel(os.Getenv("DEBUG"), os.Getenv("LOG_LEVEL")), os.Stderr)
	current.Store(s)
	return s
}

func build(level LogLevel, out io.Writer) *sink {
	return &sink{level: level, out: out, log: newLogger(out, os.Getenv("LOG_FORMAT"))}
}

func update(fn func(level LogLevel, out io.Writer) (LogLevel, io.Writer)) {
	prev := load()
	mu.Lock()
	defer mu.Unlock()
	level, out := fn(prev.level, prev.out)
	current.Store(build(level, out))
}

// SetOutput redirects all log output to w, keeping the level and format.
func SetOutput(w io.Writer) {
	update(func(level LogLevel, _ io.Writer) (LogLevel, io.Writer) { return level, w })
}

// SetLevel overrides the level resolved from the environment.
func SetLevel(level LogLevel) {
	update(func(_ LogLevel, out io.Writer) (LogLevel, io.Writer) { return level, out })
}

func GetLevel() LogLevel {
	return load().level
}

func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func logf(level LogLevel, format string, args []any) {
	s := load()
	if level < s.level {
		return
	}
	s.log.WithLevel(level.zl()).Msgf(format, args...)
}

func Debug(format string, args ...any) { logf(LevelDebug, format, args) }
func Info(format string, args ...any)  { logf(LevelInfo, format, args) }
func Warn(format string, args ...any)  { logf(LevelWarn, format, args) }
func Error(format string, args ...any) { logf(LevelError, format, args) }

// Fatal logs regardless of level and exits with status 1.
func Fatal(format string, args ...any) {
	l := load().log
	l.Fatal().Msgf(format, args...)
}

// Printf writes a record without a level, whatever the configured level.
func Printf(format string, args ...any) {
	l := load().log
	l.Log().Msgf(format, args...)
}

// Println is Printf with fmt.Sprintln formatting of its operands.
func Println(args ...any) {
	l := load().log
	l.Log().Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}
