package locks

import (
	"sync"
)

// Notifier wakes every goroutine that is waiting for a change. Waiters grab
// the current generation channel with Notified before inspecting the state
// they care about, then block on it. NotifyWaiters closes the current
// generation and starts a new one, so a change that happens between
// Notified and the wait is never missed.
type Notifier struct {
	mtx        sync.Mutex
	generation chan struct{}
}

// NewNotifier returns a new Notifier
func NewNotifier() *Notifier {
	return &Notifier{
		generation: make(chan struct{}),
	}
}

// Notified returns a channel that is closed on the next call to NotifyWaiters
func (n *Notifier) Notified() <-chan struct{} {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	return n.generation
}

// NotifyWaiters wakes all goroutines currently waiting on a channel returned
// by Notified
func (n *Notifier) NotifyWaiters() {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	close(n.generation)
	n.generation = make(chan struct{})
}
