package screenshots

import "sync"

// movieLocks is a keyed mutex. Entries are dropped once nobody holds or
// waits for them.
type movieLocks struct {
	mu    sync.Mutex
	locks map[int64]*movieLock
}

type movieLock struct {
	sync.Mutex
	refs int
}

func newMovieLocks() *movieLocks {
	return &movieLocks{locks: make(map[int64]*movieLock)}
}

func (l *movieLocks) lock(movieID int64) (unlock func()) {
	l.mu.Lock()
	ml, ok := l.locks[movieID]
	if !ok {
		ml = &movieLock{}
		l.locks[movieID] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.Lock()

	return func() {
		ml.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, movieID)
		}
		l.mu.Unlock()
	}
}
