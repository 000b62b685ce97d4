package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const fileKVSuffix = ".json"

// FileKV keeps one file per key inside a directory. Writes go to a temporary
// file that is renamed over the target, so a reader never sees half a value.
type FileKV struct {
	mu     sync.Mutex
	dir    string
	closed bool
}

func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, errors.New("file kv: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "file kv: create %s", dir)
	}
	return &FileKV{dir: dir}, nil
}

func (s *FileKV) path(key string) string {
	return filepath.Join(s.dir, key+fileKVSuffix)
}

func (s *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "file kv: read %s", key)
	}
	return b, true, nil
}

func (s *FileKV) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+"-*")
	if err != nil {
		return errors.Wrapf(err, "file kv: temp file for %s", key)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "file kv: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "file kv: close %s", key)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return errors.Wrapf(err, "file kv: rename %s", key)
	}
	return nil
}

func (s *FileKV) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "file kv: list %s", s.dir)
	}
	keys := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileKVSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileKVSuffix))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ KV = (*FileKV)(nil)
