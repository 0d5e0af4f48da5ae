package training

import "sync"

// participantLocks serializes store work per participant: a tick's
// send+append and a reply's lookup+update for the same participant never
// interleave. Entries are dropped once nobody holds or waits for them.
type participantLocks struct {
	mu    sync.Mutex
	locks map[int64]*participantLock
}

type participantLock struct {
	mu   sync.Mutex
	refs int
}

func newParticipantLocks() *participantLocks {
	return &participantLocks{locks: map[int64]*participantLock{}}
}

// lock blocks until id is free and returns the matching unlock.
func (l *participantLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	pl := l.locks[id]
	if pl == nil {
		pl = &participantLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *participantLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
