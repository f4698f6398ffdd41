package reminder

import "sync"

// keyLock serializes work per key while letting distinct keys proceed in
// parallel. Entries are reference counted and dropped when idle.
type keyLock struct {
	mu sync.Mutex
	m  map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLock) lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[string]*keyEntry{}
	}
	e := l.m[key]
	if e == nil {
		e = &keyEntry{}
		l.m[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
