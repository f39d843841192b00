// Package notify provides the in-process fan-out hub for short-lived
// user-facing messages. The dispatcher emits one toast per event on the
// notifying topics (audit is exempt, its volume would flood the user);
// display components register as listeners.
//
// Delivery is best effort: a listener whose channel buffer is full loses
// that toast. A slow display must never backpressure event dispatch.
package notify

import (
	"sync"
	"time"

	"github.com/ledgerscope/ledgerscope/pkg/protocol"
)

// Toast is one short-lived user-facing message.
type Toast struct {
	Topic     protocol.Topic `json:"topic"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub fans toasts out to registered listeners, each on its own buffered
// channel. The hub is concurrency-safe.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan Toast
	nextID    uint64
	bufSize   int
}

// NewHub constructs a hub with per-listener buffer size. If bufSize <= 0,
// a default of 16 is used.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Hub{
		listeners: make(map[uint64]chan Toast),
		bufSize:   bufSize,
	}
}

// Register adds a listener and returns (listenerID, receiveOnlyChannel).
// Callers must later Unregister(id) to release resources.
func (h *Hub) Register() (uint64, <-chan Toast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Toast, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes the listener with the given id and closes its
// channel. Safe to call multiple times; unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Emit delivers a toast to all registered listeners (best effort).
func (h *Hub) Emit(toast Toast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- toast:
		default:
			// Drop for slow listener.
		}
	}
}

// Size returns the current number of active listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
