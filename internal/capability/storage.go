// Package capability abstracts host-platform features the core must not
// feature-detect at call sites. Implementations report unsupported
// capabilities through ErrUnsupported instead of guessing.
package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// ErrUnsupported is returned when the host platform lacks a capability
var ErrUnsupported = errors.New("capability not supported on this platform")

// Usage describes local storage consumption
type Usage struct {
	Used       uint64
	Quota      uint64
	Persistent bool
}

// Storage is the injected persistent-storage capability
type Storage interface {
	// RequestPersistent asks the platform to protect local data from
	// automatic cleanup. A false result is a soft condition, not an error.
	RequestPersistent(ctx context.Context) (bool, error)
	// EstimateUsage reports used/quota bytes, or ErrUnsupported.
	EstimateUsage(ctx context.Context) (*Usage, error)
}

// FileStorage backs the capability with the database file itself: disk-backed
// stores are durable, and usage is the size of the database against a
// configured soft quota.
type FileStorage struct {
	dbPath     string
	quotaBytes uint64
}

// NewFileStorage creates a FileStorage for the given database path
func NewFileStorage(dbPath string, quotaMB int64) *FileStorage {
	return &FileStorage{dbPath: dbPath, quotaBytes: uint64(quotaMB) * 1024 * 1024}
}

func (s *FileStorage) RequestPersistent(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *FileStorage) EstimateUsage(ctx context.Context) (*Usage, error) {
	if s.quotaBytes == 0 {
		return nil, ErrUnsupported
	}

	var used uint64
	// sqlite may keep part of the data in sidecar files
	for _, p := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		if info, err := os.Stat(filepath.Clean(p)); err == nil {
			used += uint64(info.Size())
		}
	}

	return &Usage{Used: used, Quota: s.quotaBytes, Persistent: true}, nil
}

// NullStorage reports nothing supported; used on hosts without a usable
// storage API and in tests.
type NullStorage struct{}

func (NullStorage) RequestPersistent(ctx context.Context) (bool, error) {
	return false, nil
}

func (NullStorage) EstimateUsage(ctx context.Context) (*Usage, error) {
	return nil, ErrUnsupported
}
