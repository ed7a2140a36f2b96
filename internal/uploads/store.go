// Package uploads keeps uploaded originals in a working directory owned by
// a single server process.
package uploads

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const lockName = ".promptgate.lock"

var (
	ErrLocked      = errors.New("upload directory is in use by another process")
	ErrInvalidName = errors.New("invalid file name")
)

type Store struct {
	dir  string
	lock *flock.Flock
}

// Open creates dir if needed and takes the directory lock.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire upload lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Store{dir: dir, lock: lock}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes data under the base name of name, replacing any file with the
// same name. It returns the path written.
func (s *Store) Save(name string, data []byte) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." || base == "/" || base == lockName {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", base, err)
	}
	log.Debug().Str("file", path).Str("size", humanize.Bytes(uint64(len(data)))).Msg("upload saved")
	return path, nil
}

// Close releases the directory lock.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}
