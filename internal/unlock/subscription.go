package unlock

import (
	"strconv"
	"sync"
	"sync/atomic"
)

type subscription struct {
	id       string
	callback func(Event)
	active   atomic.Bool
}

// subscriptionManager holds state observers. Callbacks are never invoked
// after their unsubscribe returns.
type subscriptionManager struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	nextID atomic.Uint64
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{subs: make(map[string]*subscription)}
}

// subscribe registers callback and returns its unsubscribe function.
func (m *subscriptionManager) subscribe(callback func(Event)) func() {
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &subscription{id: id, callback: callback}
	sub.active.Store(true)

	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()

	return func() { m.unsubscribe(id) }
}

// unsubscribe is safe to call multiple times.
func (m *subscriptionManager) unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[id]; ok {
		sub.active.Store(false)
		delete(m.subs, id)
	}
}

// notify calls every callback synchronously, outside the lock.
func (m *subscriptionManager) notify(ev Event) {
	m.mu.RLock()
	if len(m.subs) == 0 {
		m.mu.RUnlock()
		return
	}
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.callback(ev)
		}
	}
}

func (m *subscriptionManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		sub.active.Store(false)
	}
	m.subs = make(map[string]*subscription)
}
