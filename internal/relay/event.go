package relay

import (
	"sync"
	"time"
)

// event is a level-triggered flag that can be waited on with a deadline.
// Set and Clear may be called any number of times.
type event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

func (e *event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set, timeout elapses or abort is closed,
// and reports whether the event is set on return. A nil abort never fires.
func (e *event) Wait(timeout time.Duration, abort <-chan struct{}) bool {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return true
	}
	ch := e.ch
	e.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return e.IsSet()
	case <-abort:
		return e.IsSet()
	}
}
