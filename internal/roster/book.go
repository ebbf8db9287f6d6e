// Package roster maintains one CSV roster file per team. The files are the
// human readable export of the crawl and double as a record of which swimmers
// have already been written.
package roster

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/fsutil"
)

const (
	filePrefix = "team_"
	fileSuffix = "_roster.csv"
)

// Book implements crawler.Sink over per-team CSV files. Appends are
// de-duplicated by swimmer ID and fsync'd before Record returns.
type Book struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	teams map[string]*teamFile
}

type teamFile struct {
	mu  sync.Mutex
	ids map[string]struct{}
	f   *os.File
}

// Open returns a Book rooted at dir, creating it if needed.
func Open(dir string, logger *zap.Logger) (*Book, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("roster directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create roster directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{dir: dir, logger: logger, teams: make(map[string]*teamFile)}, nil
}

// Dir returns the directory holding the roster files.
func (b *Book) Dir() string {
	return b.dir
}

// Path returns the roster file for team.
func (b *Book) Path(team string) string {
	return filepath.Join(b.dir, filePrefix+team+fileSuffix)
}

// Record appends entities that are not yet present in the team's file.
func (b *Book) Record(_ context.Context, team string, entities []crawler.ParsedEntity) error {
	tf, err := b.team(team)
	if err != nil {
		return err
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	var added []string
	for _, e := range entities {
		if !crawler.ValidID(e.ID) {
			return fmt.Errorf("%w: swimmer %q", crawler.ErrInvalidID, e.ID)
		}
		if _, dup := tf.ids[e.ID]; dup {
			continue
		}
		if err := w.Write(encodeRow(e)); err != nil {
			return fmt.Errorf("encode swimmer %s: %w", e.ID, err)
		}
		added = append(added, e.ID)
	}
	if len(added) == 0 {
		return nil
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode roster rows: %w", err)
	}
	if tf.f == nil {
		if err := b.openLocked(team, tf); err != nil {
			return err
		}
	}
	if _, err := tf.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append roster %s: %w", team, err)
	}
	if err := tf.f.Sync(); err != nil {
		return fmt.Errorf("sync roster %s: %w", team, err)
	}
	for _, id := range added {
		tf.ids[id] = struct{}{}
	}
	return nil
}

// Recorded returns the swimmer IDs already present in the team's file.
func (b *Book) Recorded(_ context.Context, team string) (map[string]struct{}, error) {
	tf, err := b.team(team)
	if err != nil {
		return nil, err
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()
	out := make(map[string]struct{}, len(tf.ids))
	for id := range tf.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// ResetParent deletes the team's roster file.
func (b *Book) ResetParent(_ context.Context, team string) error {
	tf, err := b.team(team)
	if err != nil {
		return err
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if tf.f != nil {
		_ = tf.f.Close()
		tf.f = nil
	}
	tf.ids = make(map[string]struct{})
	if err := os.Remove(b.Path(team)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove roster %s: %w", team, err)
	}
	b.logger.Info("roster file removed", zap.String("team_id", team))
	return fsutil.SyncDir(b.dir)
}

// Teams lists the teams that have a roster file, in ascending order.
func (b *Book) Teams() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list roster directory: %w", err)
	}
	var teams []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		team := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if crawler.ValidID(team) {
			teams = append(teams, team)
		}
	}
	sort.Strings(teams)
	return teams, nil
}

// Rows reads every swimmer in the team's file.
func (b *Book) Rows(team string) ([]crawler.ParsedEntity, error) {
	if !crawler.ValidID(team) {
		return nil, fmt.Errorf("%w: team %q", crawler.ErrInvalidID, team)
	}
	f, err := os.Open(b.Path(team))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open roster %s: %w", team, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	return readRows(f)
}

// Rewrite atomically replaces the team's file with rows.
func (b *Book) Rewrite(team string, rows []crawler.ParsedEntity) error {
	tf, err := b.team(team)
	if err != nil {
		return err
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if tf.f != nil {
		_ = tf.f.Close()
		tf.f = nil
	}
	ids := make(map[string]struct{}, len(rows))
	err = fsutil.WriteFileAtomic(b.Path(team), 0o600, func(out io.Writer) error {
		w := csv.NewWriter(out)
		if err := w.Write(Header); err != nil {
			return err
		}
		for _, e := range rows {
			if _, dup := ids[e.ID]; dup {
				continue
			}
			ids[e.ID] = struct{}{}
			if err := w.Write(encodeRow(e)); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		return fmt.Errorf("rewrite roster %s: %w", team, err)
	}
	tf.ids = ids
	return nil
}

// Close releases open file handles.
func (b *Book) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, tf := range b.teams {
		tf.mu.Lock()
		if tf.f != nil {
			if err := tf.f.Close(); err != nil {
				errs = append(errs, err)
			}
			tf.f = nil
		}
		tf.mu.Unlock()
	}
	return errors.Join(errs...)
}

// team returns the team's state, loading the existing ID set on first use.
func (b *Book) team(team string) (*teamFile, error) {
	if !crawler.ValidID(team) {
		return nil, fmt.Errorf("%w: team %q", crawler.ErrInvalidID, team)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if tf, ok := b.teams[team]; ok {
		return tf, nil
	}
	rows, err := b.Rows(team)
	if err != nil {
		return nil, err
	}
	tf := &teamFile{ids: make(map[string]struct{}, len(rows))}
	for _, r := range rows {
		tf.ids[r.ID] = struct{}{}
	}
	b.teams[team] = tf
	return tf, nil
}

func (b *Book) openLocked(team string, tf *teamFile) error {
	path := b.Path(team)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 -- team is validated numeric.
	if err != nil {
		return fmt.Errorf("open roster %s: %w", team, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read roster %s: %w", team, err)
	}
	// Drop a torn final row left by an interrupted append.
	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	if keep != int64(len(data)) {
		if err := f.Truncate(keep); err != nil {
			_ = f.Close()
			return fmt.Errorf("truncate roster %s: %w", team, err)
		}
	}
	if _, err := f.Seek(keep, io.SeekStart); err != nil {
		_ = f.Close()
		return fmt.Errorf("seek roster %s: %w", team, err)
	}
	if keep == 0 {
		var hdr bytes.Buffer
		w := csv.NewWriter(&hdr)
		_ = w.Write(Header)
		w.Flush()
		if _, err := f.Write(hdr.Bytes()); err != nil {
			_ = f.Close()
			return fmt.Errorf("write roster header %s: %w", team, err)
		}
	}
	tf.f = f
	return nil
}

func readRows(r io.Reader) ([]crawler.ParsedEntity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	var rows []crawler.ParsedEntity
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == Header[0] {
			continue
		}
		e, err := decodeRow(rec)
		if err != nil {
			return nil, err
		}
		if crawler.ValidID(e.ID) {
			rows = append(rows, e)
		}
	}
	return rows, nil
}
