package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/harrison/codeflow/internal/filelock"
	"github.com/harrison/codeflow/internal/models"
)

const (
	recordExt   = ".json"
	lockKeyName = ".runs"
)

// FileStore keeps one JSON document per run in a directory. Run ids are ULIDs, so
// lexical order of file names is start order.
type FileStore struct {
	fs     afero.Fs
	dir    string
	locker filelock.Locker
}

// NewFileStore creates a store over fs rooted at dir.
func NewFileStore(fs afero.Fs, dir string, locker filelock.Locker) *FileStore {
	return &FileStore{fs: fs, dir: dir, locker: locker}
}

// NewOSFileStore creates a store on the real filesystem guarded by OS file locks,
// so independent processes can save concurrently.
func NewOSFileStore(dir string) *FileStore {
	return NewFileStore(afero.NewOsFs(), dir, filelock.FlockLocker{})
}

func (s *FileStore) pathFor(runID string) string {
	return filepath.Join(s.dir, runID+recordExt)
}

// Save writes the record as <run_id>.json. It refuses to replace an existing record.
func (s *FileStore) Save(ctx context.Context, record *models.RunRecord) error {
	if record == nil {
		return fmt.Errorf("save: nil record")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if strings.ContainsAny(record.RunID, `/\`) {
		return fmt.Errorf("save: run id %q is not a valid file name", record.RunID)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", record.RunID, err)
	}

	err = filelock.WriteNew(ctx, s.fs, s.locker, filepath.Join(s.dir, lockKeyName), s.pathFor(record.RunID), data)
	if errors.Is(err, filelock.ErrExists) {
		return fmt.Errorf("save %s: %w", record.RunID, ErrDuplicateRun)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", record.RunID, err)
	}
	return nil
}

// Get reads one record.
func (s *FileStore) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return nil, fmt.Errorf("get %q: %w", runID, ErrNotFound)
	}
	data, err := afero.ReadFile(s.fs, s.pathFor(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}

	var record models.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &record, nil
}

// List yields summaries newest-first. Records are read one at a time as the
// caller advances, and stopping early reads nothing further.
func (s *FileStore) List(ctx context.Context) iter.Seq2[models.RunSummary, error] {
	return func(yield func(models.RunSummary, error) bool) {
		ids, err := s.runIDs()
		if err != nil {
			yield(models.RunSummary{}, err)
			return
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(models.RunSummary{}, err)
				return
			}
			record, err := s.Get(ctx, id)
			if err != nil {
				if !yield(models.RunSummary{}, &RecordError{RunID: id, Err: err}) {
					return
				}
				continue
			}
			if !yield(record.Summary(), nil) {
				return
			}
		}
	}
}

// runIDs returns stored run ids in descending order.
func (s *FileStore) runIDs() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs in %s: %w", s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		// Evaluation reports share the directory but are not run records
		if strings.HasPrefix(name, "eval_") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Close is a no-op; the file store holds no open handles.
func (s *FileStore) Close() error {
	return nil
}
