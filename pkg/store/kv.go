package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

// KV is the local key-value medium conversations are persisted in. It plays
// the role browser local storage plays for a web client: a handful of named
// records, each one an opaque value.
type KV interface {
	// Get returns the value for key. A missing key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// List returns all keys in lexical order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendBolt   Backend = "bolt"
	BackendSQLite Backend = "sqlite"
)

var (
	ErrClosed     = errors.New("kv store closed")
	ErrInvalidKey = errors.New("invalid key")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || !keyPattern.MatchString(key) {
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return nil
}

// OpenKV opens the KV backend named by backend. path is a directory for the
// file backend and a database file for bolt and sqlite; memory ignores it.
func OpenKV(backend Backend, path string) (KV, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendFile:
		return NewFileKV(path)
	case BackendBolt:
		return NewBoltKV(path)
	case BackendSQLite:
		dsn, err := SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteKV(dsn)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
