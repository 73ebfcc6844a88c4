package memory

import (
	"context"
	"sync"

	"github.com/vsinha/costing/pkg/domain/entities"
	"github.com/vsinha/costing/pkg/domain/repositories"
)

// KeyLocker is an in-process per-key mutex whose acquisition honors context cancellation
type KeyLocker struct {
	mu    sync.Mutex
	slots map[entities.StockKey]*keySlot
}

// keySlot is dropped once no caller holds or waits on it
type keySlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyLocker creates a new in-process key locker
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{slots: make(map[entities.StockKey]*keySlot)}
}

// Verify interface compliance
var _ repositories.KeyLocker = (*KeyLocker)(nil)

func (l *KeyLocker) acquire(key entities.StockKey) *keySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *KeyLocker) release(key entities.StockKey, slot *keySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock acquires keys in the order given. Callers pass entities.SortedKeys output.
func (l *KeyLocker) Lock(ctx context.Context, keys []entities.StockKey) (func(), error) {
	type heldKey struct {
		key  entities.StockKey
		slot *keySlot
	}
	held := make([]heldKey, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].slot.ch
			l.release(held[i].key, held[i].slot)
		}
	}

	for _, key := range keys {
		slot := l.acquire(key)
		select {
		case slot.ch <- struct{}{}:
			held = append(held, heldKey{key: key, slot: slot})
		case <-ctx.Done():
			l.release(key, slot)
			unlock()
			return nil, ctx.Err()
		}
	}
	return unlock, nil
}
