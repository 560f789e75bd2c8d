package ringbuffer

import "sync"

// notifier wakes every goroutine waiting on it. A waiter must take the channel
// before checking its condition so that a notify in between is not lost.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func (n *notifier) init() {
	n.ch = make(chan struct{})
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
