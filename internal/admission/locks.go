// ABOUTME: Per-user mutexes that serialize admission decisions
// ABOUTME: Idle locks live in a bounded LRU; held or awaited locks are never evicted

package admission

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"maunium.net/go/mautrix/id"
)

// DefaultLockCacheSize is the number of idle user locks kept around.
const DefaultLockCacheSize = 4096

type actorLock struct {
	mu   sync.Mutex
	refs int // guarded by lockSet.mu
}

// lockSet hands out one mutex per user. A lock with refs > 0 sits in
// active. Once the last holder releases it moves to idle, where the LRU
// may drop it. Dropping an idle lock is safe because nobody references it.
type lockSet struct {
	mu     sync.Mutex
	active map[id.UserID]*actorLock
	idle   *lru.Cache[id.UserID, *actorLock]
}

func newLockSet(size int) (*lockSet, error) {
	if size <= 0 {
		size = DefaultLockCacheSize
	}
	idle, err := lru.New[id.UserID, *actorLock](size)
	if err != nil {
		return nil, err
	}
	return &lockSet{
		active: make(map[id.UserID]*actorLock),
		idle:   idle,
	}, nil
}

// acquire blocks until the lock for user is held and returns its release
// function.
func (s *lockSet) acquire(user id.UserID) func() {
	s.mu.Lock()
	l, ok := s.active[user]
	if !ok {
		if idle, found := s.idle.Peek(user); found {
			s.idle.Remove(user)
			l = idle
		} else {
			l = &actorLock{}
		}
		s.active[user] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(s.active, user)
			s.idle.Add(user, l)
		}
	}
}

// size returns the number of active and idle locks.
func (s *lockSet) size() (active, idle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active), s.idle.Len()
}
