// ABOUTME: Per-source mutual exclusion for registry mutations
// ABOUTME: Mutations on different sources never contend

package registry

import "sync"

// sourceLocks serializes mutations per source slug. The guard's
// read-decide-write sequence is a check-then-act race if two revisions for
// the same source are created concurrently; holding the source's mutex
// across the whole transaction keeps the guard's view current at commit.
type sourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSourceLocks() *sourceLocks {
	return &sourceLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for source and returns the unlock function.
func (l *sourceLocks) acquire(source string) func() {
	l.mu.Lock()
	m, ok := l.locks[source]
	if !ok {
		m = &sync.Mutex{}
		l.locks[source] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
