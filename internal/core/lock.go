package core

import "sync"

// Locker grants per-repository exclusive access to mutating operations.
// Keys are working directory paths.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock acquires key without waiting. ok is false when key is held.
func (l *Locker) TryLock(key string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}
