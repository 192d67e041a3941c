package application

import "sync"

// repoLocks serialises work per repoKey. Entries are reference counted and
// dropped once nobody holds or waits for them.
type repoLocks struct {
	mu    sync.Mutex
	locks map[string]*repoLock
}

type repoLock struct {
	mu   sync.Mutex
	refs int
}

func newRepoLocks() *repoLocks {
	return &repoLocks{locks: make(map[string]*repoLock)}
}

// Lock blocks until the caller holds the lock for key and returns the
// function that releases it.
func (l *repoLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &repoLock{}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *repoLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
