// Package runstore persists terminal run records. Stores are append-only: a
// record is written once, when its run ends, and never changed or removed.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"

	"github.com/harrison/codeflow/internal/models"
)

var (
	// ErrNotFound is returned by Get when no record has the requested run id.
	ErrNotFound = errors.New("run not found")
	// ErrDuplicateRun is returned by Save when a record with the same run id exists.
	ErrDuplicateRun = errors.New("run already saved")
)

// RecordError reports one stored record that could not be read during a listing.
// The listing continues past it.
type RecordError struct {
	RunID string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Store is durable append/read access to run records.
type Store interface {
	// Save persists a terminal record exactly once.
	Save(ctx context.Context, record *models.RunRecord) error
	// Get returns the full record for runID or ErrNotFound.
	Get(ctx context.Context, runID string) (*models.RunRecord, error)
	// List yields summaries newest-first. Each range over the returned sequence
	// starts a fresh scan, so it can be iterated again to pick up new records.
	List(ctx context.Context) iter.Seq2[models.RunSummary, error]
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options selects and locates a backend.
type Options struct {
	Backend string // "file" (default) or "sqlite"
	Dir     string // Directory of the file backend
	DBPath  string // Database file of the sqlite backend; defaults to Dir/runs.db
}

// Open returns the configured store.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("file run store requires a directory")
		}
		return NewOSFileStore(opts.Dir), nil
	case BackendSQLite:
		dbPath := opts.DBPath
		if dbPath == "" {
			if opts.Dir == "" {
				return nil, fmt.Errorf("sqlite run store requires a database path")
			}
			dbPath = filepath.Join(opts.Dir, "runs.db")
		}
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown run store backend %q", opts.Backend)
	}
}

// Collect drains up to limit summaries from a listing; limit <= 0 means all.
func Collect(seq iter.Seq2[models.RunSummary, error], limit int) ([]models.RunSummary, error) {
	return CollectReadable(seq, limit, nil)
}

// CollectReadable is Collect that passes unreadable records to skip and keeps
// going. A nil skip stops at the first error like Collect.
func CollectReadable(seq iter.Seq2[models.RunSummary, error], limit int, skip func(*RecordError)) ([]models.RunSummary, error) {
	var out []models.RunSummary
	for s, err := range seq {
		if err != nil {
			var re *RecordError
			if skip != nil && errors.As(err, &re) {
				skip(re)
				continue
			}
			return out, err
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
