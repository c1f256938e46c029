package userstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// recordFilePerms restricts record files to owner-only because they contain
// device tokens.
const recordFilePerms = 0o600

// recordDirPerms for the store directory itself.
const recordDirPerms = 0o700

const recordExt = ".json"

// DirStore keeps one JSON file per user in a directory. File names are
// sha256(key) so arbitrary session keys are safe on every filesystem; the key
// itself is stored inside the record for enumeration.
type DirStore struct {
	dir    string
	logger *slog.Logger
	locks  *keyLocker
	now    func() time.Time
}

// NewDirStore creates a DirStore rooted at dir, creating it if needed.
func NewDirStore(dir string, logger *slog.Logger) (*DirStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, recordDirPerms); err != nil {
		return nil, fmt.Errorf("userstore: creating store dir %s: %w", dir, err)
	}

	logger.Info("using directory credential store", slog.String("dir", dir))

	return &DirStore{
		dir:    dir,
		logger: logger,
		locks:  newKeyLocker(),
		now:    time.Now,
	}, nil
}

// Get reads the record for key. Returns nil, nil if no record exists.
func (s *DirStore) Get(_ context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	return s.load(s.filePath(key))
}

// Merge applies patch to the record for key under the key's lock.
func (s *DirStore) Merge(_ context.Context, key string, patch Patch) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	unlock := s.locks.lock(key)
	defer unlock()

	path := s.filePath(key)

	rec, err := s.load(path)
	if err != nil && !errors.Is(err, ErrCorruptRecord) {
		return nil, err
	}

	if rec == nil {
		rec = &Record{Key: key}
	}

	patch.Apply(rec, s.now())

	if err := s.write(path, rec); err != nil {
		return nil, err
	}

	s.logger.Debug("merged credential record",
		slog.String("session_key", key),
		slog.Bool("registered", rec.Registered()),
		slog.Bool("pending", rec.HasPending()),
	)

	return rec, nil
}

// Keys lists the session keys of every readable record, sorted ascending.
// Unreadable files are logged and skipped.
func (s *DirStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("userstore: reading store dir: %w", err)
	}

	keys := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}

		rec, err := s.load(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable record",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		if rec != nil && rec.Key != "" {
			keys = append(keys, rec.Key)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// Close is a no-op; DirStore holds no open handles.
func (s *DirStore) Close() error {
	return nil
}

func (s *DirStore) load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil //nolint:nilnil // sentinel for "not registered"
		}

		return nil, fmt.Errorf("userstore: reading record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt credential record",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return &rec, nil
}

// write persists rec atomically: temp file in the same directory, fsync, rename.
func (s *DirStore) write(path string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("userstore: encoding record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("userstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, recordFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("userstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("userstore: writing record: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("userstore: syncing record: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("userstore: closing record: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("userstore: renaming record: %w", err)
	}

	success = true

	return nil
}

// recordFileName is deterministic per key and free of path separators.
func recordFileName(key string) string {
	return fmt.Sprintf("%x%s", sha256.Sum256([]byte(key)), recordExt)
}

func (s *DirStore) filePath(key string) string {
	return filepath.Join(s.dir, recordFileName(key))
}
