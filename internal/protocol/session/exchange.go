package session

import (
	"sort"
	"sync"
	"time"
)

// PendingExchange tracks one invoke request awaiting its response. Attached
// carries caller-owned completion state.
type PendingExchange[T any] struct {
	ExchangeID uint64
	NodeID     uint64
	EndpointID uint16
	ClusterID  uint32
	CommandID  uint32
	SentAt     time.Time
	DeadlineAt time.Time
	Attached   T
}

// ExchangeTable stores pending exchanges by exchange id. Take and TakeNode
// remove what they return, so each exchange resolves at most once.
type ExchangeTable[T any] struct {
	mu    sync.Mutex
	items map[uint64]PendingExchange[T]
}

func NewExchangeTable[T any]() *ExchangeTable[T] {
	return &ExchangeTable[T]{
		items: make(map[uint64]PendingExchange[T]),
	}
}

// Insert returns false if the id is zero or already pending.
func (t *ExchangeTable[T]) Insert(item PendingExchange[T]) bool {
	if item.ExchangeID == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[item.ExchangeID]; exists {
		return false
	}
	t.items[item.ExchangeID] = item
	return true
}

func (t *ExchangeTable[T]) Take(exchangeID uint64) (PendingExchange[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[exchangeID]
	if ok {
		delete(t.items, exchangeID)
	}
	return item, ok
}

// TakeNode removes and returns every exchange pending on nodeID, oldest id
// first.
func (t *ExchangeTable[T]) TakeNode(nodeID uint64) []PendingExchange[T] {
	t.mu.Lock()
	out := make([]PendingExchange[T], 0)
	for id, item := range t.items {
		if item.NodeID == nodeID {
			out = append(out, item)
			delete(t.items, id)
		}
	}
	t.mu.Unlock()
	sortByExchangeID(out)
	return out
}

func (t *ExchangeTable[T]) Get(exchangeID uint64) (PendingExchange[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[exchangeID]
	return item, ok
}

func (t *ExchangeTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *ExchangeTable[T]) List() []PendingExchange[T] {
	t.mu.Lock()
	out := make([]PendingExchange[T], 0, len(t.items))
	for _, item := range t.items {
		out = append(out, item)
	}
	t.mu.Unlock()
	sortByExchangeID(out)
	return out
}

func sortByExchangeID[T any](items []PendingExchange[T]) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ExchangeID < items[j].ExchangeID
	})
}
