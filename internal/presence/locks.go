package presence

import "sync"

// personLocks provides per-person mutual exclusion around the
// read-validate-persist sequence. Exclusivity is scoped to one personId;
// marks for different people never contend.
type personLocks struct {
	mu    sync.Mutex
	locks map[string]*personLock
}

type personLock struct {
	sync.Mutex
	refs int
}

func newPersonLocks() *personLocks {
	return &personLocks{locks: make(map[string]*personLock)}
}

// acquire blocks until the caller holds the lock for personID.
func (p *personLocks) acquire(personID string) {
	p.mu.Lock()
	l, ok := p.locks[personID]
	if !ok {
		l = &personLock{}
		p.locks[personID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
}

// release unlocks and drops the entry once nobody is waiting, so the map
// does not grow with every person ever marked.
func (p *personLocks) release(personID string) {
	p.mu.Lock()
	l := p.locks[personID]
	l.refs--
	if l.refs == 0 {
		delete(p.locks, personID)
	}
	p.mu.Unlock()

	l.Unlock()
}
