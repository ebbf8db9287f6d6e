package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/fsutil"
)

// DefaultIndexFile is the discovery checkpoint file name.
const DefaultIndexFile = "rosters.json"

// FileConfig configures a FileStore.
type FileConfig struct {
	Dir       string
	IndexFile string
}

// FileStore implements crawler.CheckpointStore on the local filesystem. All
// mutations are serialized by a single mutex and fsync'd before returning.
type FileStore struct {
	dir       string
	indexPath string

	mu   sync.Mutex
	logs map[string]*os.File
	done map[string]map[string]struct{}
}

// NewFileStore prepares dir and returns a store rooted there.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = DefaultIndexFile
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "completed"), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{
		dir:       cfg.Dir,
		indexPath: filepath.Join(cfg.Dir, cfg.IndexFile),
		logs:      make(map[string]*os.File),
		done:      make(map[string]map[string]struct{}),
	}, nil
}

// IndexPath returns the location of the discovery checkpoint.
func (s *FileStore) IndexPath() string {
	return s.indexPath
}

// LoadIndex reads the discovery checkpoint.
func (s *FileStore) LoadIndex(_ context.Context) (crawler.Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, crawler.ErrIndexNotFound
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var index crawler.Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", s.indexPath, err)
	}
	if index == nil {
		index = crawler.Index{}
	}
	return index, nil
}

// SaveIndex atomically replaces the discovery checkpoint.
func (s *FileStore) SaveIndex(_ context.Context, index crawler.Index) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fsutil.WriteFileAtomic(s.indexPath, 0o600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(index)
	})
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// IsComplete reports whether child was recorded as fetched for parent.
func (s *FileStore) IsComplete(_ context.Context, parent, child string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, err := s.loadLocked(parent)
	if err != nil {
		return false, err
	}
	_, ok := done[child]
	return ok, nil
}

// Completed returns a copy of the completion set for parent.
func (s *FileStore) Completed(_ context.Context, parent string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, err := s.loadLocked(parent)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(done))
	for id := range done {
		out[id] = struct{}{}
	}
	return out, nil
}

// MarkComplete appends child to the parent's completion log.
func (s *FileStore) MarkComplete(_ context.Context, parent, child string) error {
	if !crawler.ValidID(child) {
		return fmt.Errorf("%w: %q", crawler.ErrInvalidID, child)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	done, err := s.loadLocked(parent)
	if err != nil {
		return err
	}
	if _, ok := done[child]; ok {
		return nil
	}
	f, err := s.logLocked(parent)
	if err != nil {
		return err
	}
	if err := fsutil.AppendLine(f, child); err != nil {
		return fmt.Errorf("mark %s/%s complete: %w", parent, child, err)
	}
	done[child] = struct{}{}
	return nil
}

// ClearParent discards the completion log for parent.
func (s *FileStore) ClearParent(_ context.Context, parent string) error {
	if !crawler.ValidID(parent) {
		return fmt.Errorf("%w: %q", crawler.ErrInvalidID, parent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.logs[parent]; ok {
		_ = f.Close()
		delete(s.logs, parent)
	}
	delete(s.done, parent)
	if err := os.Remove(s.logPath(parent)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove completion log: %w", err)
	}
	return fsutil.SyncDir(filepath.Dir(s.logPath(parent)))
}

// Close releases open log handles.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for parent, f := range s.logs {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.logs, parent)
	}
	return errors.Join(errs...)
}

func (s *FileStore) logPath(parent string) string {
	return filepath.Join(s.dir, "completed", "team_"+parent+".log")
}

func (s *FileStore) loadLocked(parent string) (map[string]struct{}, error) {
	if !crawler.ValidID(parent) {
		return nil, fmt.Errorf("%w: %q", crawler.ErrInvalidID, parent)
	}
	if done, ok := s.done[parent]; ok {
		return done, nil
	}
	done := make(map[string]struct{})
	data, err := os.ReadFile(s.logPath(parent))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read completion log: %w", err)
	}
	// A trailing line without a newline is a torn write and is ignored.
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if id := sc.Text(); crawler.ValidID(id) {
			done[id] = struct{}{}
		}
	}
	s.done[parent] = done
	return done, nil
}

func (s *FileStore) logLocked(parent string) (*os.File, error) {
	if f, ok := s.logs[parent]; ok {
		return f, nil
	}
	path := s.logPath(parent)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 -- parent is validated numeric.
	if err != nil {
		return nil, fmt.Errorf("open completion log: %w", err)
	}
	if err := truncateTornTail(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.logs[parent] = f
	return f, nil
}

// truncateTornTail drops a partial final line and positions f at its end.
func truncateTornTail(f *os.File) error {
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read completion log: %w", err)
	}
	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	if keep != int64(len(data)) {
		if err := f.Truncate(keep); err != nil {
			return fmt.Errorf("truncate completion log: %w", err)
		}
	}
	if _, err := f.Seek(keep, io.SeekStart); err != nil {
		return fmt.Errorf("seek completion log: %w", err)
	}
	return nil
}

func validateIndex(index crawler.Index) error {
	for parent, children := range index {
		if !crawler.ValidID(parent) {
			return fmt.Errorf("%w: team %q", crawler.ErrInvalidID, parent)
		}
		for _, child := range children {
			if !crawler.ValidID(child) {
				return fmt.Errorf("%w: swimmer %q in team %s", crawler.ErrInvalidID, child, parent)
			}
		}
	}
	return nil
}
