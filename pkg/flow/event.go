package flow

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Event delivers a port to its connected handles. Fire reads the handle
// list through an atomic pointer and never takes a lock; Connect and
// Disconnect flip the handle state and replace the list under one mutex.
type Event struct {
	mu       sync.Mutex
	handlers atomic.Pointer[[]*Handle]
}

// Handle is one subscription to an Event. A handle created by Setup stays
// inactive until Connect.
type Handle struct {
	event     *Event
	fn        func(Port)
	connected atomic.Bool
}

// Connect subscribes fn and returns the active handle.
func (e *Event) Connect(fn func(Port)) *Handle {
	h := e.Setup(fn)
	h.Connect()
	return h
}

// Setup creates an inactive handle for fn.
func (e *Event) Setup(fn func(Port)) *Handle {
	return &Handle{event: e, fn: fn}
}

// Fire calls every connected handle with p.
func (e *Event) Fire(p Port) {
	hs := e.handlers.Load()
	if hs == nil {
		return
	}
	for _, h := range *hs {
		if h.connected.Load() {
			h.fn(p)
		}
	}
}

// Connected reports the number of active handles.
func (e *Event) Connected() int {
	hs := e.handlers.Load()
	if hs == nil {
		return 0
	}
	return len(*hs)
}

// DisconnectAll deactivates every handle.
func (e *Event) DisconnectAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if hs := e.handlers.Load(); hs != nil {
		for _, h := range *hs {
			h.connected.Store(false)
		}
	}
	e.handlers.Store(nil)
}

// add and remove expect e.mu to be held.
func (e *Event) add(h *Handle) {
	var next []*Handle
	if hs := e.handlers.Load(); hs != nil {
		next = slices.Clone(*hs)
	}
	next = append(next, h)
	e.handlers.Store(&next)
}

func (e *Event) remove(h *Handle) {
	hs := e.handlers.Load()
	if hs == nil {
		return
	}
	next := slices.DeleteFunc(slices.Clone(*hs), func(x *Handle) bool { return x == h })
	e.handlers.Store(&next)
}

// Connect activates delivery. It returns false if already connected.
func (h *Handle) Connect() bool {
	h.event.mu.Lock()
	defer h.event.mu.Unlock()

	if !h.connected.CompareAndSwap(false, true) {
		return false
	}
	h.event.add(h)
	return true
}

// Disconnect deactivates delivery. It returns false if not connected.
func (h *Handle) Disconnect() bool {
	h.event.mu.Lock()
	defer h.event.mu.Unlock()

	if !h.connected.CompareAndSwap(true, false) {
		return false
	}
	h.event.remove(h)
	return true
}

func (h *Handle) Connected() bool {
	return h.connected.Load()
}
