package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/care/detectd/internal/types"
)

// FileStore keeps one CSV record per line in a flat file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore does not touch the disk; the file is created on first Append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Append(ctx context.Context, events []types.DetectionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	if err := terminateTornLine(f); err != nil {
		f.Close()
		return fmt.Errorf("repair event log: %w", err)
	}
	if err := writeRecords(f, events); err != nil {
		f.Close()
		return fmt.Errorf("append event log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync event log: %w", err)
	}
	return f.Close()
}

// terminateTornLine ends a final line cut short by power loss, so the next
// record starts on a line of its own. The torn line itself is skipped on read.
func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	slog.Warn("event log ends with a torn line, terminating it", "path", f.Name())
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *FileStore) ReadAll(ctx context.Context) ([]types.DetectionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readAll()
}

func (s *FileStore) readAll() ([]types.DetectionEvent, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.DetectionEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	events := make([]types.DetectionEvent, 0)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// a torn final line from power loss must not hide the rest
				slog.Warn("skipping unreadable event record", "path", s.path, "line", perr.Line, "error", err)
				continue
			}
			return nil, fmt.Errorf("read event log: %w", err)
		}

		ev, err := types.ParseRecord(fields)
		if err != nil {
			slog.Warn("skipping malformed event record", "path", s.path, "record", fields, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	return s.Replace(ctx, nil)
}

// Replace writes events to a temp file in the same directory and renames it
// over the log.
func (s *FileStore) Replace(ctx context.Context, events []types.DetectionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp event log: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := writeRecords(tmp, events); err != nil {
		cleanup()
		return fmt.Errorf("write temp event log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp event log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp event log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace event log: %w", err)
	}
	return nil
}

func (s *FileStore) Len(ctx context.Context) (int, error) {
	events, err := s.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (s *FileStore) Close() error {
	return nil
}

func writeRecords(w io.Writer, events []types.DetectionEvent) error {
	cw := csv.NewWriter(w)
	for _, ev := range events {
		if err := cw.Write(ev.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
