// Package stack owns the process-wide guard over stack state and the event
// loop that runs asynchronous deliveries under it.
//
// Ownership boundary:
// - device resolution, command transmission and response delivery all run
// with the guard held
//
// - session handshake state is published atomically by session goroutines
// and is readable without the guard
//
// Callers that block on an asynchronous response must release the guard
// first: the delivery that unblocks them runs on the loop and needs it.
package stack

import (
	"sync"
	"sync/atomic"
)

// Guard is the single exclusive-access lock for stack-owned state.
type Guard struct {
	mu   sync.Mutex
	held atomic.Bool
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) Lock() {
	g.mu.Lock()
	g.held.Store(true)
}

func (g *Guard) Unlock() {
	g.held.Store(false)
	g.mu.Unlock()
}

func (g *Guard) TryLock() bool {
	if !g.mu.TryLock() {
		return false
	}
	g.held.Store(true)
	return true
}

// Held reports whether some goroutine currently holds the guard. Intended
// for diagnostics and tests only.
func (g *Guard) Held() bool {
	return g.held.Load()
}
