package domains

import "sync"

// domainLocks serialises the store, tracker and scheduler writes for one
// domain. Entries are dropped once no caller holds or waits on them.
type domainLocks struct {
	mu    sync.Mutex
	locks map[string]*domainLock
}

type domainLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until domain is free and returns the matching unlock.
func (l *domainLocks) lock(domain string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*domainLock)
	}
	dl, ok := l.locks[domain]
	if !ok {
		dl = &domainLock{}
		l.locks[domain] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, domain)
		}
		l.mu.Unlock()
	}
}
