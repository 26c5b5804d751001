package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/sw33tLie/nstg/pkg/dispatch"
)

const (
	lockFileSuffix = ".lock"
)

// DBLock manages a file-based lock for the SQLite snapshot cache.
type DBLock struct {
	lock *flock.Flock
	path string
}

// NewDBLock creates a new lock for the given database path.
func NewDBLock(dbPath string) (*DBLock, error) {
	absPath, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}
	lockPath := absPath + lockFileSuffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	return &DBLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// Lock acquires the database lock, waiting if necessary.
// It will print a message if it has to wait.
func (l *DBLock) Lock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}

	if !locked {
		fmt.Fprintf(os.Stderr, "Another nstg process is using the cache, waiting for it to finish...\n")
		if err := l.lock.Lock(); err != nil {
			return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.path, err)
		}
	}
	return nil
}

// Unlock releases the database lock.
func (l *DBLock) Unlock() error {
	return unlock(l.lock, l.path)
}

// CredentialLock keeps two nstg processes from running campaigns with the
// same telegram client key. Unlike DBLock it never waits.
type CredentialLock struct {
	lock *flock.Flock
	path string
}

// NewCredentialLock creates the lock for clientKey under dir, or under
// ~/.config/nstg/locks when dir is empty. The key itself is not written to disk.
func NewCredentialLock(dir, clientKey string) (*CredentialLock, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".config", "nstg", "locks")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create lock directory: %w", err)
	}
	sum := sha256.Sum256([]byte(clientKey))
	path := filepath.Join(dir, hex.EncodeToString(sum[:8])+lockFileSuffix)
	return &CredentialLock{lock: flock.New(path), path: path}, nil
}

// TryLock takes the lock or fails with dispatch.ErrCredentialInUse.
func (l *CredentialLock) TryLock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("%w (held by another nstg process)", dispatch.ErrCredentialInUse)
	}
	return nil
}

func (l *CredentialLock) Unlock() error {
	return unlock(l.lock, l.path)
}

func unlock(lock *flock.Flock, path string) error {
	if err := lock.Unlock(); err != nil {
		// Suppress error if the lock file doesn't exist, as it means we don't hold the lock.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", path, err)
	}
	return nil
}

// GetAbsDBPath resolves the snapshot cache path.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "nstg", "cache.sqlite"), nil
	}
	return filepath.Abs(dbPath)
}
