package dispatch

import (
	"errors"
	"sync"
)

// ErrCredentialInUse rejects a campaign whose client key is already held by
// another running campaign.
var ErrCredentialInUse = errors.New("credential already in use by another campaign")

// LockRegistry hands out one exclusive lock per client key inside a process.
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]bool)}
}

// Acquire takes the lock for key and returns its release function.
func (l *LockRegistry) Acquire(key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrCredentialInUse
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently locked.
func (l *LockRegistry) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

var defaultLocks = NewLockRegistry()
