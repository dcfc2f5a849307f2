// Package keylock provides read/write mutexes keyed by string, allocated on demand
// and released once no holder or waiter references them.
package keylock

import "sync"

// Locker hands out one RWMutex per key
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	rw   sync.RWMutex
	refs int
}

// New creates an empty Locker
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock acquires the exclusive lock for key and returns its release func
func (l *Locker) Lock(key string) func() {
	e := l.acquire(key)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		l.release(key, e)
	}
}

// RLock acquires the shared lock for key and returns its release func
func (l *Locker) RLock(key string) func() {
	e := l.acquire(key)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		l.release(key, e)
	}
}

// Len reports how many keys currently have holders or waiters
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
