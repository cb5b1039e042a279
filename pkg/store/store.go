package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Defaults for the database configuration.
const (
	DefaultGCInterval     = 10 * time.Minute
	DefaultGCDiscardRatio = 0.5
	DefaultLogTTL         = 30 * 24 * time.Hour

	// Sizes tuned for a Raspberry Pi; badger's defaults assume a server.
	memTableSize     = 8 << 20
	valueLogFileSize = 64 << 20
	blockCacheSize   = 16 << 20
	indexCacheSize   = 8 << 20
)

// ErrPathRequired is returned when a persistent database has no directory.
var ErrPathRequired = errors.New("database path is required")

// Config holds the database configuration.
type Config struct {
	Path       string        // Database directory, created if missing. Ignored in memory.
	InMemory   bool          // Keep everything in memory, used by tests.
	SyncWrites bool          // Fsync every commit.
	GCInterval time.Duration // Value log GC interval, zero disables GC.
	LogTTL     time.Duration // Lifetime of log entries, zero keeps them forever.
}

// Store is the embedded database holding configuration and logs.
type Store struct {
	db     *badger.DB
	logTTL time.Duration

	stopGC chan struct{}
	gcDone chan struct{}
}

// Open opens or creates the database.
//
// Parameters:
//   - cfg: Database configuration.
//
// Returns:
//   - *Store: Opened store, closed with Close.
//   - error: Non-nil if the directory or database could not be opened.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options

	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, ErrPathRequired
		}

		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", cfg.Path, err)
		}

		opts = badger.DefaultOptions(cfg.Path).
			WithValueLogFileSize(valueLogFileSize)
	}

	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithLogger(newBadgerLogger())

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, logTTL: cfg.LogTTL}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})

		go s.runGC(cfg.GCInterval)
	}

	logrus.WithFields(logrus.Fields{
		"path":      cfg.Path,
		"in_memory": cfg.InMemory,
	}).Debug("Opened state database")

	return s, nil
}

// Close stops the garbage collector and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// runGC reclaims value log space until Close is called.
func (s *Store) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(DefaultGCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logrus.WithError(err).
					WithField("persist", "no").
					Warn("Value log garbage collection failed")
			}
		}
	}
}

// badgerLogger routes badger's diagnostics through logrus.
// Entries are never persisted so the database does not log into itself.
type badgerLogger struct {
	entry *logrus.Entry
}

func newBadgerLogger() *badgerLogger {
	return &badgerLogger{entry: logrus.WithFields(logrus.Fields{
		"component": "badger",
		"persist":   "no",
	})}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

// Infof is demoted to debug, badger reports routine compactions at info.
func (l *badgerLogger) Infof(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.entry.Tracef(format, args...)
}
