package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"framegrab/internal/logging"
	"framegrab/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a movie or screenshot row does not exist.
var ErrNotFound = errors.New("not found")

// Database is the SQLite store of movies, screenshots and scan metadata.
// Writes hold mu exclusively so SQLite never sees two writers.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// dsn enables WAL, foreign keys and a busy timeout so concurrent readers
// wait instead of failing with "database is locked".
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_cache_size", "10000")
	q.Set("_temp_store", "MEMORY")
	return path + "?" + q.Encode()
}

// New opens the database file at dbPath, creating it if needed, and brings
// the schema up to date. The parent directory must exist.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)
	checkFiles(dbPath)

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	d := &Database{db: db, dbPath: dbPath}

	fail := func(msg string, err error) (*Database, error) {
		if cerr := db.Close(); cerr != nil {
			logging.Error("failed to close database: %v", cerr)
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	if err := d.Ping(ctx); err != nil {
		return fail("failed to connect to database", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := d.migrate(ctx); err != nil {
		return fail("failed to migrate database schema", err)
	}
	return d, nil
}

// NewFromDB wraps an already-open handle without touching the schema.
func NewFromDB(db *sql.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection for readiness checks.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Batch is a write transaction opened by BeginBatch.
type Batch struct {
	Tx    *sql.Tx
	start time.Time
}

// BeginBatch starts a transaction that lives until EndBatch.
func (d *Database) BeginBatch() (*Batch, error) {
	d.mu.Lock()
	tx, err := d.db.BeginTx(context.Background(), nil)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Batch{Tx: tx, start: time.Now()}, nil
}

// EndBatch commits b, or rolls it back when err is non-nil. A failed
// rollback is joined to err.
func (d *Database) EndBatch(b *Batch, err error) error {
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
	}
	defer func() {
		metrics.DBTransactionDuration.WithLabelValues(outcome).Observe(time.Since(b.start).Seconds())
	}()

	if err == nil {
		return b.Tx.Commit()
	}
	if rbErr := b.Tx.Rollback(); rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
	}
	return err
}

// Stats returns library totals and the last completed scan time.
func (d *Database) Stats(ctx context.Context) (stats LibraryStats, err error) {
	defer func(start time.Time) { recordQuery("stats", start, err) }(time.Now())

	d.mu.RLock()
	defer d.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM movies),
			(SELECT COUNT(*) FROM screenshots),
			(SELECT COUNT(*) FROM movies m WHERE NOT EXISTS (SELECT 1 FROM screenshots s WHERE s.movie_id = m.id))
	`).Scan(&stats.TotalMovies, &stats.TotalScreenshots, &stats.MoviesWithoutScreenshots)
	if err != nil {
		return stats, err
	}
	stats.LastScan, err = d.lastScanLocked(ctx)
	return stats, err
}

// GetStats implements metrics.StatsProvider.
func (d *Database) GetStats() metrics.Stats {
	s, err := d.Stats(context.Background())
	if err != nil {
		logging.Warn("Failed to collect library stats: %v", err)
	}
	return metrics.Stats{
		TotalMovies:              s.TotalMovies,
		TotalScreenshots:         s.TotalScreenshots,
		MoviesWithoutScreenshots: s.MoviesWithoutScreenshots,
	}
}

// UpdateDBMetrics publishes open connections and the size of the database
// file and its WAL and shared-memory companions.
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))
	if d.dbPath == "" {
		return
	}
	for _, f := range dbFiles {
		if info, err := os.Stat(d.dbPath + f.suffix); err == nil {
			metrics.DBSizeBytes.WithLabelValues(f.label).Set(float64(info.Size()))
		}
	}
}

var dbFiles = []struct{ label, suffix string }{
	{"main", ""},
	{"wal", "-wal"},
	{"shm", "-shm"},
}

func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func recordRows(operation string, result sql.Result) {
	if result == nil {
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(n))
	}
}

// checkFiles logs problems that would make SQLite fail later with a less
// helpful error. A read-only WAL or SHM file left by another user is made
// writable; a read-only main file is only reported.
func checkFiles(dbPath string) {
	dir := filepath.Dir(dbPath)
	marker := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		logging.Warn("Database directory %s is not writable: %v", dir, err)
	} else {
		_ = os.Remove(marker)
	}

	for _, f := range dbFiles {
		p := dbPath + f.suffix
		info, err := os.Stat(p)
		if err != nil || info.Mode().Perm()&0o200 != 0 {
			continue
		}
		if f.suffix == "" {
			logging.Warn("Database file %s is read-only (mode %v)", p, info.Mode())
			continue
		}
		if err := os.Chmod(p, 0o600); err != nil {
			logging.Error("Failed to make %s writable: %v", p, err)
		} else {
			logging.Info("Made %s writable", p)
		}
	}
}
