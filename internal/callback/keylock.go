package callback

import "sync"

// keyLocker hands out one mutex per document key. Entries are dropped when
// the last holder or waiter unlocks, so the map only holds keys in flight.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (l *keyLocker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()

			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// inFlight reports how many keys currently have holders or waiters.
func (l *keyLocker) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
