package production

import (
	"sync"

	"github.com/vsinha/costing/pkg/domain/entities"
)

// orderLocks serializes transitions of the same order within this process
type orderLocks struct {
	mu    sync.Mutex
	locks map[entities.OrderID]*orderLock
}

type orderLock struct {
	mu      sync.Mutex
	waiters int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[entities.OrderID]*orderLock)}
}

// lock blocks until id is free and returns its unlock function
func (l *orderLocks) lock(id entities.OrderID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &orderLock{}
		l.locks[id] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
