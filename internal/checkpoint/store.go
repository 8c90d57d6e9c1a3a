// Package checkpoint stores the numbered configuration snapshots written after
// every confirmed-good reduction, so an interrupted run can resume from the
// newest one.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FilePrefix is the filename prefix of checkpoint files (config_0, config_1, ...)
const FilePrefix = "config_"

// ErrExists is returned when writing an index that is already on disk
var ErrExists = errors.New("checkpoint already exists")

var fileRE = regexp.MustCompile(`^` + FilePrefix + `(\d+)$`)

// Entry is one checkpoint file
type Entry struct {
	Index int
	Path  string
}

// Store is a directory of checkpoint files. Checkpoints are append-only.
type Store struct {
	dir string
}

// NewStore opens (and creates if needed) a checkpoint directory
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// OpenStore opens a checkpoint directory for reading without creating it.
// A missing directory lists as empty.
func OpenStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the checkpoint directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for a checkpoint index
func (s *Store) Path(index int) string {
	return filepath.Join(s.dir, FilePrefix+strconv.Itoa(index))
}

// List returns every checkpoint in the directory, ordered by index
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var entries []Entry
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		m := fileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue // too many digits to be one of ours
		}
		entries = append(entries, Entry{Index: index, Path: filepath.Join(s.dir, e.Name())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

// Latest returns the checkpoint with the highest index.
// ok is false when the directory holds no checkpoints.
func (s *Store) Latest() (entry Entry, ok bool, err error) {
	entries, err := s.List()
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// Write durably creates checkpoint index with the given contents. The file
// appears atomically and an existing checkpoint is never replaced.
func (s *Store) Write(index int, data []byte) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("invalid checkpoint index %d", index)
	}
	path := s.Path(index)

	tmp, err := writeTemp(s.dir, data)
	if err != nil {
		return "", fmt.Errorf("write checkpoint %d: %w", index, err)
	}
	defer func() { _ = os.Remove(tmp) }()

	// Link fails if the destination exists, unlike Rename.
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		}
		return "", fmt.Errorf("write checkpoint %d: %w", index, err)
	}
	if err := syncDir(s.dir); err != nil {
		return "", fmt.Errorf("sync checkpoint directory: %w", err)
	}
	return path, nil
}

// WriteFile atomically replaces path with data. Used for the working .config,
// which unlike checkpoints is rewritten before every build.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(dir)
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0644); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
